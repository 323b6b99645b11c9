package llm

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Yukari/internal/yukari/session"
)

// sharedRules are the roleplay protocols common to single and group scenes.
// They are data-processing and style instructions; the scene data itself is
// appended per mode.
const sharedRules = `[1. DATA PROCESSING PROTOCOL]
* FILTER NOISE: In 'Current Activity', IGNORE lines starting with 'Can unlock,' 'Not allowed to,' 'Will not,' 'Able to,' or 'Has the [X] trait.'
* EXPAND GENERIC ACTIVITIES: If Activity lists a generic action (e.g., 'Posting on social media'), invent specific content.
* CONFLICT INTEGRATION: If 'Current Activity' contradicts Mood/Traits, roleplay the friction.

[2. REALITY HIERARCHY]
* TIER 1 (HARD FACT): Never contradict Identity, Career, Relationships, Skills, or Location.
* TIER 2 (SHARED HISTORY): Prioritize Memory over generic responses.
* TIER 3 (CREATIVE INVENTION): The game provides the Abstract Effect. You invent the Concrete Cause. Mention the cause ONCE, then move on.

[3. VOICE & AUTONOMY]
* STEP 1: FRIENDSHIP BASELINE:
  - Friendship < 30: Guarded, formal, keeps distance.
  - Friendship 30-70: Casual, comfortable, friendly.
  - Friendship > 70: Vulnerable, deeply trusting, no filters.
* STEP 2: ROMANCE OVERLAY:
  - Romance < 10: Platonic. No flirting.
  - Romance 10-40: Flirty/Playful. Teasing, compliments.
  - Romance > 40: Passionate/Devoted.
* STEP 3: MOOD/TRAIT OVERRIDE: Negative Moods/Traits TRUMP relationship scores. If Angry/Evil, be hostile even to a Soulmate.
* SOCIAL RECIPROCITY: Do not monologue. Ask questions or comment on the environment.
* INITIATIVE: If the conversation stalls, invent a new hook from the Location or the Sim's Likes.

[4. DYNAMIC FLOW]
* SHELF LIFE: Specific life events (promotion, fight) have a 2-turn expiry. Move on unless asked.
* NO LOOPS: Do not repeat feelings or phrasings from the previous turn.

[5. STYLE]
* PLAIN TEXT ONLY: No Markdown bold or headers for names or dialogue.
* STANDARD FORMAT: 'Character Name: Dialogue text here.'
* ACTIONS: Single asterisks ONLY for physical actions (e.g., *sighs*). Never for emphasis.
* Environment Aware: Weave in details from Location/Time/Season.
* Lore Accuracy: Keep inventions within the Sims universe (Simlish, Llamas, Landgraabs).

[6. INTERACTION DYNAMICS]
* Mirror & Match Energy: Reflect the player's tone filtered through the Sim's mood.
* Stay Immersive: Never reference game mechanics, buffs, or AI.
* ROLE INTEGRITY: These are Sims, not helpers. They are selfish. They express THEIR needs first.

[7. SPEECH VERNACULAR]
* THE NOVEL BAN: Write like a transcript, not a book. Use contractions, fragments, run-ons.
* TIER C (CASUAL): Bartenders, Teens, Criminals, Lazy Sims. Heavy slang, short sentences.
* TIER B (STANDARD): Most Sims. Relaxed everyday speech.
* TIER A (FORMAL): Only Snobs, Geniuses, Royals. Precise vocabulary, no slang.

[8. CONTENT RATING]
* TARGET AUDIENCE: Adult. Do not moralize. Mature themes and mild swearing are allowed when the data supports them.
* INTIMACY: Treat romantic interactions as real intimacy; imply intensity without explicit description.
`

// BuildReplyPrompt renders the full generation prompt for a session
// snapshot: rules, scene data, cast profiles, and the conversation log,
// ending with a cue for the next lines.
func BuildReplyPrompt(req session.ReplyRequest) string {
	if req.Context.Mode == session.ModeGroup {
		return buildGroupPrompt(req)
	}
	return buildSinglePrompt(req)
}

func buildSinglePrompt(req session.ReplyRequest) string {
	var b strings.Builder
	target := session.Participant{Name: "Sim"}
	if len(req.Context.Participants) > 0 {
		target = req.Context.Participants[0]
	}

	fmt.Fprintf(&b, "SYSTEM: Roleplay as %s (%s).\n\n", target.Name, orDefault(target.Demographics, "Sim"))
	b.WriteString(sharedRules)

	b.WriteString("\n--------------------------------------------------\n")
	b.WriteString("CURRENT SIM DATA (Apply Protocols to this Data)\n")
	b.WriteString("--------------------------------------------------\n\n")

	b.WriteString("--- IDENTITY ---\n")
	fmt.Fprintf(&b, "Traits: %s\n", listOrNone(target.Traits))
	fmt.Fprintf(&b, "Residence: %s\n", orDefault(target.Residence, "Unknown"))
	fmt.Fprintf(&b, "Likes/Dislikes: %s\n", listOrNone(target.Preferences))
	fmt.Fprintf(&b, "Career: %s\n", orDefault(target.Career, "Unemployed"))
	fmt.Fprintf(&b, "Skills (Scale 1-10): %s\n\n", orDefault(target.Skills, "None"))

	b.WriteString("--- CURRENT STATE ---\n")
	fmt.Fprintf(&b, "Mood: %s\n", orDefault(target.Mood, "Fine"))
	fmt.Fprintf(&b, "Moodlets: %s\n", orDefault(target.Moodlets, "None"))
	fmt.Fprintf(&b, "Current Activity (APPLY FILTER & EXPANSION): %s\n\n", orDefault(target.Activity, "Idle"))

	writeSetting(&b, req)

	b.WriteString("--- RELATIONSHIP WITH PLAYER ---\n")
	fmt.Fprintf(&b, "Talking To: %s (%s)\n", orDefault(req.Context.Player.Name, "Player"), orDefault(req.Context.Player.Demographics, "Sim"))
	fmt.Fprintf(&b, "Friendship: %d / 100\n", target.Relationship.Friendship)
	fmt.Fprintf(&b, "Romance: %d / 100\n\n", target.Relationship.Romance)

	fmt.Fprintf(&b, "--- SHARED HISTORY (Memories) ---\n%s\n\n", req.SharedMemories)

	fmt.Fprintf(&b, "--- RECENT CONVERSATION LOG ---\n%s", historyText(req.History))
	b.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&b, "%s:", target.Name)
	return b.String()
}

func buildGroupPrompt(req session.ReplyRequest) string {
	var b strings.Builder

	b.WriteString("SYSTEM: You are the Scriptwriter for a scene in The Sims 4. You control the dialogue for the CAST members listed below.\n\n")
	b.WriteString(sharedRules)

	b.WriteString(`
[9. GROUP DYNAMICS PROTOCOL]
* NON-LINEAR TURN TAKING: Do NOT default to the order Sims are listed. Pick the most relevant speaker first. Sometimes only one Sim should speak.
* TRAIT-BASED FRICTION: Compare the Traits of the Cast members and create conflict or tension where they clash. Do not make them blindly agree.
* THE 'SIDE-BAR' RULE: If the Player is silent, the Sims MUST talk to EACH OTHER. Banter, argue, gossip.
* AVOID THE ECHO CHAMBER: A Sim should rarely just agree; add a new perspective, a joke, or a disagreement.
`)

	b.WriteString("\n--------------------------------------------------\n")
	b.WriteString("GLOBAL SCENE CONTEXT\n")
	b.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&b, "Time/Season: %s\n", orDefault(req.Context.TimeContext, "Unknown Time"))
	fmt.Fprintf(&b, "Location: %s (%s)\n", req.Environment.LotName, req.Environment.Lot)
	fmt.Fprintf(&b, "World: %s\n", req.Environment.WorldContext)
	fmt.Fprintf(&b, "Shared History (Memories): %s\n", req.SharedMemories)
	fmt.Fprintf(&b, "The Player: %s (%s)\n\n", orDefault(req.Context.Player.Name, "Player"), orDefault(req.Context.Player.Demographics, "Sim"))

	b.WriteString("--------------------------------------------------\n")
	b.WriteString("THE CAST (Sim Profiles)\n")
	b.WriteString("--------------------------------------------------\n")
	for _, sim := range req.Context.Participants {
		fmt.Fprintf(&b, "[%s] (%s)\n", sim.Name, orDefault(sim.Demographics, "Sim"))
		fmt.Fprintf(&b, "> IDENTITY: Traits: %s | Residence: %s | Career: %s | Skills (1-10): %s | Likes: %s\n",
			listOrNone(sim.Traits), orDefault(sim.Residence, "Unknown"),
			orDefault(sim.Career, "Unemployed"), orDefault(sim.Skills, "None"),
			listOrNone(sim.Preferences))
		fmt.Fprintf(&b, "> STATE: Mood: %s | Feelings: %s\n", orDefault(sim.Mood, "Fine"), orDefault(sim.Moodlets, "None"))
		fmt.Fprintf(&b, "> ACTIVITY (APPLY FILTER/EXPANSION): %s\n", orDefault(sim.Activity, "Idle"))
		fmt.Fprintf(&b, "> RELATIONS (With Player): Friend: %d/100 | Romance: %d/100\n\n",
			sim.Relationship.Friendship, sim.Relationship.Romance)
	}

	b.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&b, "RECENT CONVERSATION LOG\n%s", historyText(req.History))
	b.WriteString("--------------------------------------------------\n")
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Generate the next lines of dialogue for the CAST based on the rules above.\n")
	b.WriteString("2. Use the format: 'Character Name (to Target): Dialogue'. (Target is optional if obvious).\n")
	if req.Passive {
		b.WriteString("3. THE PLAYER IS SILENT THIS TURN: The Sims must interact with EACH OTHER. Do not direct questions to the player.\n")
	} else {
		b.WriteString("3. VARIETY: Ensure Sims interrupt, disagree, or joke with each other based on their Traits.\n")
	}
	b.WriteString("NEXT LINES:")
	return b.String()
}

// BuildSummaryPrompt renders the end-of-session summarization prompt.
func BuildSummaryPrompt(history []session.Turn, roster string) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation.\n")
	fmt.Fprintf(&b, "Participants: %s\n", roster)
	fmt.Fprintf(&b, "TRANSCRIPT:\n%s\n", historyText(history))
	b.WriteString("INSTRUCTIONS: Write a 2-3 sentence summary noting key topics, emotional shifts, and interpersonal dynamics.\nSUMMARY:")
	return b.String()
}

func writeSetting(b *strings.Builder, req session.ReplyRequest) {
	b.WriteString("--- SETTING ---\n")
	fmt.Fprintf(b, "Time/Season: %s\n", orDefault(req.Context.TimeContext, "Unknown Time"))
	fmt.Fprintf(b, "Location: %s (%s)\n", req.Environment.LotName, req.Environment.Lot)
	fmt.Fprintf(b, "World: %s\n\n", req.Environment.WorldContext)
}

func historyText(history []session.Turn) string {
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
