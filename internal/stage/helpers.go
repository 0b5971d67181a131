package stage

import (
	"encoding/json"

	"curator/internal/queue"
	"curator/internal/services"
)

// DecodePayload unmarshals a job's payload into dst. On failure it returns a
// services.ErrValidation suitable for handler Prepare methods, since a payload
// that never parsed will never parse on retry.
func DecodePayload(job *queue.Job, dst any) error {
	if job.Payload == "" {
		return services.Wrap(
			services.ErrValidation, string(job.Type), "decode payload",
			"job payload is empty", nil)
	}
	if err := json.Unmarshal([]byte(job.Payload), dst); err != nil {
		return services.Wrap(
			services.ErrValidation, string(job.Type), "decode payload",
			"job payload is not valid JSON", err)
	}
	return nil
}

// EncodePayload marshals a payload value for enqueueing.
func EncodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", services.Wrap(
			services.ErrValidation, "queue", "encode payload",
			"payload could not be serialized", err)
	}
	return string(raw), nil
}
