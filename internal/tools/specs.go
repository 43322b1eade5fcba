package tools

// canonicalSpecs returns the built-in tool set. Host tools are executed by
// the remote editor; control tools are handled inside the core.
func canonicalSpecs() []Spec {
	return []Spec{
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			Parameters: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"content": {"type": "string"}
				},
				"required": ["path", "content"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "write",
			Mode:       ModeHost,
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file.",
			Parameters: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "read",
			Mode:       ModeHost,
		},
		{
			Name:        "delete_file",
			Description: "Delete a file.",
			Parameters: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "write",
			Mode:       ModeHost,
		},
		{
			Name:        "move_file",
			Description: "Move or rename a file.",
			Parameters: `{
				"type": "object",
				"properties": {
					"source": {"type": "string", "minLength": 1},
					"destination": {"type": "string", "minLength": 1}
				},
				"required": ["source", "destination"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "write",
			Mode:       ModeHost,
		},
		{
			Name:        "create_directory",
			Description: "Create a directory, including missing parents.",
			Parameters: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "write",
			Mode:       ModeHost,
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory.",
			Parameters: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`,
			Category:   CategoryFile,
			Permission: "read",
			Mode:       ModeHost,
		},
		{
			Name:        "execute_command",
			Description: "Run a shell command on the editor host.",
			Parameters: `{
				"type": "object",
				"properties": {
					"command": {"type": "string", "minLength": 1},
					"cwd": {"type": "string"}
				},
				"required": ["command"],
				"additionalProperties": false
			}`,
			Category:   CategoryShell,
			Permission: "execute",
			Mode:       ModeHost,
		},
		{
			Name:        "search",
			Description: "Search the workspace for a pattern.",
			Parameters: `{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"path": {"type": "string"}
				},
				"required": ["query"],
				"additionalProperties": false
			}`,
			Category:   CategorySearch,
			Permission: "read",
			Mode:       ModeHost,
		},
		{
			Name:        "switch_mode",
			Description: "Switch the conversation to another agent.",
			Parameters: `{
				"type": "object",
				"properties": {
					"target_agent": {
						"type": "string",
						"enum": ["orchestrator", "coder", "architect", "debug", "ask", "universal"]
					},
					"reason": {"type": "string"}
				},
				"required": ["target_agent"],
				"additionalProperties": false
			}`,
			Category:   CategoryControl,
			Permission: "none",
			Mode:       ModeInternal,
		},
		{
			Name:        "create_plan",
			Description: "Decompose a complex request into a dependency-ordered plan of subtasks.",
			Parameters: `{
				"type": "object",
				"properties": {
					"goal": {"type": "string", "minLength": 1},
					"subtasks": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"description": {"type": "string", "minLength": 1},
								"agent": {
									"type": "string",
									"enum": ["orchestrator", "coder", "architect", "debug", "ask", "universal"]
								},
								"dependencies": {
									"type": "array",
									"items": {"type": "string"}
								},
								"estimated_time": {"type": "string"}
							},
							"required": ["id", "description", "agent"],
							"additionalProperties": false
						}
					}
				},
				"required": ["goal", "subtasks"],
				"additionalProperties": false
			}`,
			Category:   CategoryControl,
			Permission: "none",
			Mode:       ModeInternal,
		},
	}
}
