package icloud

import "time"

// requestTimeout bounds every network call. On timeout the request fails
// with ErrNetwork and no session state is mutated.
const requestTimeout = 30 * time.Second

// widgetKey identifies the calling application to the identity service.
// It is the public key of the iCloud web client, not a secret.
const widgetKey = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"

// Endpoints are the three logical service bases. Home and setup differ by
// region; the auth base is global.
type Endpoints struct {
	Auth  string
	Home  string
	Setup string
}

// DefaultEndpoints returns the standard (non-China) service bases.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Auth:  "https://idmsa.apple.com/appleauth/auth",
		Home:  "https://www.icloud.com",
		Setup: "https://setup.icloud.com/setup/ws/1",
	}
}

// ChinaEndpoints returns the mainland-China service bases.
func ChinaEndpoints() Endpoints {
	return Endpoints{
		Auth:  "https://idmsa.apple.com/appleauth/auth",
		Home:  "https://www.icloud.com.cn",
		Setup: "https://setup.icloud.com.cn/setup/ws/1",
	}
}

// EndpointsForRegion maps a config region name onto endpoint bases.
// Unknown regions fall back to the default.
func EndpointsForRegion(region string) Endpoints {
	if region == "china" {
		return ChinaEndpoints()
	}
	return DefaultEndpoints()
}
