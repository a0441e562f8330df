package mcpserver

// StoryFormatContract describes the canonical story file format that
// LLM consumers should follow when creating library files.
const StoryFormatContract = `# Fabula Story Format Contract

Every story file in the Fabula library MUST follow this structure.

## Structure

` + "```" + `yaml
id: my-story              # OPTIONAL - stable project id; derived from the file path if omitted
title: Human-readable     # OPTIONAL - defaults to the id
root: start               # REQUIRED - id of the root node; must exist under nodes
nodes:                    # REQUIRED - map of node id to node
  start:
    scene: Opening scene text shown for this node.
    events:               # OPTIONAL - ordered narrative beats
      - speaker: Narrator # empty speaker means narration
        content: The lamp has gone dark.
        type: description # dialogue | action | thought | description (default dialogue)
    actions:              # OPTIONAL - ordered player choices
      - id: climb         # OPTIONAL - derived from position if omitted
        description: Climb the tower
        key: true         # plot-critical action
        target: tower     # OPTIONAL - id of the node this choice leads to
  tower:
    scene: The spiral stairs groan underfoot.
` + "```" + `

## Rules

1. **` + "`" + `root` + "`" + ` is required** and must name a node defined under ` + "`" + `nodes` + "`" + `.
2. **Node ids** are the map keys. Use lowercase kebab-case (e.g. ` + "`" + `east-gate` + "`" + `).
3. **Event types** are one of ` + "`" + `dialogue` + "`" + `, ` + "`" + `action` + "`" + `, ` + "`" + `thought` + "`" + `, ` + "`" + `description` + "`" + `.
   An omitted type means ` + "`" + `dialogue` + "`" + `.
4. **Action targets** must name a node defined in the same file. An action
   without a target is a dangling choice the author wires up later.
5. **Reachability:** nodes nobody points to are kept, parented under the root.
6. **File names** end with ` + "`" + `.story.yaml` + "`" + `, ` + "`" + `.story.yml` + "`" + `, or ` + "`" + `.story.json` + "`" + `
   and use forward slashes. JSON files carry the same schema.
7. **Encoding** is UTF-8 with a trailing newline.
8. **Depth and parents are derived.** Do not write level or parent fields;
   they are computed from action targets on import.
`
