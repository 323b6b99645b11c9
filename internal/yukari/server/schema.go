package server

import "github.com/santhosh-tekuri/jsonschema/v5"

// The game-side scripts assemble these payloads by scraping live game
// objects, so malformed bodies do happen (mods, partial loads). Validating
// up front turns them into a 400 with a usable message instead of a
// half-initialized session.

const initSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["mode", "location", "player"],
  "properties": {
    "mode": {"type": "string", "enum": ["SINGLE", "GROUP"]},
    "time_context": {"type": "string"},
    "location": {"$ref": "#/$defs/location"},
    "player": {"$ref": "#/$defs/participant"},
    "participants": {
      "type": "array",
      "items": {"$ref": "#/$defs/participant"}
    }
  },
  "$defs": {
    "location": {
      "type": "object",
      "required": ["zone_id"],
      "properties": {
        "zone_id": {"type": "integer"},
        "world_id": {"type": "integer"},
        "neighborhood_id": {"type": "integer"},
        "lot_name": {"type": "string"}
      }
    },
    "participant": {
      "type": "object",
      "required": ["sim_id"],
      "properties": {
        "sim_id": {"type": "integer"},
        "name": {"type": "string"},
        "demographics": {"type": "string"},
        "traits": {"type": "array", "items": {"type": "string"}},
        "mood": {"type": "string"},
        "moodlets": {"type": "string"},
        "activity": {"type": "string"},
        "career": {"type": "string"},
        "skills": {"type": "string"},
        "residence": {"type": "string"},
        "preferences": {"type": "array", "items": {"type": "string"}},
        "relationship_with_player": {
          "type": "object",
          "properties": {
            "friendship": {"type": "integer"},
            "romance": {"type": "integer"}
          }
        }
      }
    }
  }
}`

const updateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["location"],
  "properties": {
    "time_context": {"type": "string"},
    "location": {
      "type": "object",
      "required": ["zone_id"],
      "properties": {
        "zone_id": {"type": "integer"},
        "world_id": {"type": "integer"},
        "neighborhood_id": {"type": "integer"},
        "lot_name": {"type": "string"}
      }
    },
    "participants": {"type": "array", "items": {"type": "object"}}
  }
}`

var (
	initSchema   = jsonschema.MustCompileString("game_init.json", initSchemaJSON)
	updateSchema = jsonschema.MustCompileString("game_update.json", updateSchemaJSON)
)
