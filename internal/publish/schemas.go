package publish

const progressUpdatedSchema = `{
  "type": "object",
  "title": "ProgressUpdated",
  "properties": {
    "snapshot_id": {"type": "string"},
    "computed_at": {"type": "string", "format": "date-time"},
    "current_streak": {"type": "integer", "minimum": 0},
    "active_streak": {"type": "integer", "minimum": 0},
    "total_completions": {"type": "integer", "minimum": 0},
    "last_activity_day": {"type": "string", "format": "date"},
    "consistency": {"type": "number", "minimum": 0, "maximum": 1},
    "daily_progress": {"type": "number", "minimum": 0, "maximum": 1},
    "weekly_progress": {"type": "number", "minimum": 0, "maximum": 1},
    "coverage": {"type": "object", "additionalProperties": {"type": "number"}},
    "wellness_progress": {"type": "object", "additionalProperties": {"type": "number"}},
    "coverage_window_days": {"type": "integer", "minimum": 1}
  },
  "required": ["snapshot_id", "computed_at", "current_streak", "total_completions", "consistency", "coverage", "wellness_progress", "coverage_window_days"],
  "additionalProperties": false
}`
