package agent

// Config points at the user-driven configuration files. Live reload applies
// to the flow document; the device seed is read once at startup.
type Config struct {
	DataDir      string `json:"dataDir"`
	FlowConfig   string `json:"flowConfig"`
	DeviceConfig string `json:"deviceConfig"`
}
