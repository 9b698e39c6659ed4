// Package tool executes model-requested shell commands under a capability
// sandbox. A Runner only spawns commands from its allowlist, only inside its
// allowed root directories, and always under a timeout. Which commands a role
// may use is a static table; roles with no commands get no Runner at all.
package tool
