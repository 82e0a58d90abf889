package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// ReasonDeviceUnavailable marks a denied or failed capture device acquisition.
	ReasonDeviceUnavailable ReasonCode = "device_unavailable"
	// ReasonNotFound marks a chat or message that does not exist or does not
	// belong to the caller.
	ReasonNotFound ReasonCode = "not_found"
	// ReasonValidation marks missing or malformed caller input.
	ReasonValidation ReasonCode = "validation"
	// ReasonRecognition marks a failed or empty recognizer response.
	ReasonRecognition ReasonCode = "recognition"
	// ReasonPersistence marks a failed backend write.
	ReasonPersistence ReasonCode = "persistence"
	// ReasonSessionExpired marks a guest envelope past its TTL.
	ReasonSessionExpired ReasonCode = "session_expired"
	// ReasonEvaluation marks a model comparison that could not complete.
	ReasonEvaluation ReasonCode = "evaluation"
)

// UserMessage maps an error to a human-readable description of its cause.
// Every known reason yields a distinct message; only a reasonless error falls
// back to the generic one.
func UserMessage(err error) string {
	switch Reason(err) {
	case ReasonDeviceUnavailable:
		return "unable to access the recording device"
	case ReasonNotFound:
		return "chat not found"
	case ReasonValidation:
		return "the request is missing required data"
	case ReasonRecognition:
		return "the speech recognition service could not transcribe the audio"
	case ReasonPersistence:
		return "the message could not be saved"
	case ReasonSessionExpired:
		return "the guest session has expired"
	case ReasonEvaluation:
		return "the model comparison could not be completed"
	default:
		return "something went wrong"
	}
}
