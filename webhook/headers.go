package webhook

import "net/http"

// Signature headers by channel type. Lookup through http.Header is
// case-insensitive via canonicalization.
const (
	ShopifyHeader     = "X-Shopify-Hmac-Sha256"
	WooCommerceHeader = "X-WC-Webhook-Signature"
)

var signatureHeaders = map[string]string{
	TypeShopify:     ShopifyHeader,
	TypeWooCommerce: WooCommerceHeader,
}

// SignatureHeader names the signature header of a channel type.
func SignatureHeader(channelType string) (string, bool) {
	var name, ok = signatureHeaders[channelType]
	return name, ok
}

// SignatureFromHeader extracts the signature of a channel type from |h|.
func SignatureFromHeader(h http.Header, channelType string) string {
	var name, ok = signatureHeaders[channelType]
	if !ok {
		return ""
	}
	return h.Get(name)
}
