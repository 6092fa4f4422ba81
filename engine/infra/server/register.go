package server

// registerTools installs the full catalogue on the MCP server. Registration
// happens once, at construction; tool availability never depends on which
// backends are reachable.
func (a *App) registerTools() {
	a.registerSystemTools()
	a.registerSpaceTools()
	a.registerLiveTools()
	a.registerBankTools()
	a.registerBackupTools()
	a.registerAdminTools()
	a.registerGraphTools()
	a.log.Info("MCP tool catalogue registered", "tools_count", len(a.tools))
}
