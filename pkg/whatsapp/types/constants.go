package types

// MessageKind is the Cloud API "type" discriminator for outbound messages.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindAudio    MessageKind = "audio"
)

const (
	MessagingProduct    = "whatsapp"
	RecipientIndividual = "individual"

	EndpointMessages = "/messages"
	FieldsCredential = "id"
	FieldsProfile    = "verified_name,quality_rating,display_phone_number"
	QualityRed       = "RED"
)

// Client limits. Error bodies are truncated before they are stored as the
// entry's error details.
const (
	DefaultHTTPTimeoutSec = 30
	MaxErrorBodyBytes     = 4096
	MaxResponseBodyBytes  = 1 << 20
)

// Cloud API error codes that indicate throttling or a temporary upstream
// condition. Anything else in the 4xx range is permanent.
var TransientErrorCodes = map[int]bool{
	4:      true, // application request limit
	80007:  true, // WABA rate limit
	130429: true, // throughput limit
	131048: true, // spam rate limit
	131056: true, // pair rate limit
}
