package privacy

import (
	"strings"

	"wadispatch/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+14155550123" -> "+*******0123"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	keep := constants.DefaultPhoneMaskLength
	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], keep)
	}
	return maskString(phone, keep)
}

// MaskID masks an identifier such as a provider message id or queue id,
// keeping enough of the tail to correlate log lines.
func MaskID(id string) string {
	if id == "" {
		return ""
	}
	return maskString(id, constants.DefaultMessageIDLength)
}

// MaskToken hides a credential entirely except for its length class.
func MaskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "****"
	default:
		return token[:2] + "****" + token[len(token)-2:]
	}
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields.
// Message content is dropped rather than masked.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		switch k {
		case "destination", "phone", "recipient_id", "to":
			if isString {
				masked[k] = MaskPhoneNumber(s)
				continue
			}
		case "provider_message_id", "wamid":
			if isString {
				masked[k] = MaskID(s)
				continue
			}
		case "access_token", "token", "secret":
			if isString {
				masked[k] = MaskToken(s)
				continue
			}
		case "content", "body":
			continue
		}
		masked[k] = v
	}
	return masked
}
