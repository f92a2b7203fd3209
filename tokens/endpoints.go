package tokens

// Endpoints are the token URLs of one carrier.
type Endpoints struct {
	Production string
	Sandbox    string
}

// ForTestMode picks the endpoint matching an account's test_mode flag.
func (e Endpoints) ForTestMode(testMode bool) string {
	if testMode {
		return e.Sandbox
	}
	return e.Production
}

// Built-in carriers.
const (
	CarrierFedEx = "FEDEX"
	CarrierDHL   = "DHL"
)

func builtinEndpoints() map[string]Endpoints {
	return map[string]Endpoints{
		CarrierFedEx: {
			Production: "https://apis.fedex.com/oauth/token",
			Sandbox:    "https://apis-sandbox.fedex.com/oauth/token",
		},
		CarrierDHL: {
			Production: "https://api.dhl.com/auth/v1/token",
			Sandbox:    "https://api-sandbox.dhl.com/auth/v1/token",
		},
	}
}
