package models

// Request describes one deployment of the auth proxy.
type Request struct {
	Org       string
	Env       string
	Username  string
	Password  string
	Debug     bool
	ProxyName string
	// VirtualHosts is a comma separated list. Empty means "default,secure".
	VirtualHosts string
	// URL is set when the auth endpoint is a literal URL rather than a
	// template with organization and environment placeholders.
	URL string
}

type Result struct {
	Revision     int
	PublicKeyURL string
}
