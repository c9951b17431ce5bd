package tools

// searchInputSchema is the JSON Schema both search tools advertise. The
// gateway validates invoke params against it before touching the registry.
// The length bound is advisory: callers exceeding it are not rejected by the
// normalizer or the cache, only nudged by the schema description.
const searchInputSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Free-text web search query. Soft limit: 400 characters / 50 words."
    }
  },
  "required": ["query"],
  "additionalProperties": false
}`
