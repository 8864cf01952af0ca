package domain

import "github.com/mssola/user_agent"

// DeviceContext describes the connecting device as reported by the client.
type DeviceContext struct {
	UserAgent    string `json:"user_agent"`
	IPAddress    string `json:"ip_address"`
	DeviceType   string `json:"device_type,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// InferDeviceType fills DeviceType from the user agent when the client did
// not report one.
func (d *DeviceContext) InferDeviceType() {
	if d.DeviceType != "" || d.UserAgent == "" {
		return
	}
	ua := user_agent.New(d.UserAgent)
	switch {
	case ua.Bot():
		d.DeviceType = "bot"
	case ua.Mobile():
		d.DeviceType = "mobile"
	default:
		d.DeviceType = "desktop"
	}
}

// MatchesGuestSession reports whether an open guest session belongs to the
// same device. Devices match on DeviceID when both sides have one; without a
// DeviceID the fallback is (IPAddress, UserAgent) equality. The fallback is a
// weak fingerprint (shared NAT, same browser build) and can produce false
// positives.
func (d DeviceContext) MatchesGuestSession(s *Session) bool {
	if d.DeviceID != "" {
		return s.DeviceID == d.DeviceID
	}
	if s.DeviceID != "" {
		return false
	}
	return d.IPAddress != "" && d.IPAddress == s.IPAddress && d.UserAgent == s.UserAgent
}
