package logger

const (
	Main         = "main"
	Orchestrator = "orchestrator"
	Configurator = "configurator"
	Link         = "link"
	Failover     = "failover"
	ARP          = "arp"
	DHCP         = "dhcp"
	Hooks        = "hooks"
	Service      = "service"
	Control      = "control"
	Metrics      = "metrics"
	Config       = "config"
	Events       = "events"
)
