package services

import "net/http"

// RequestError is a terminal rejection of an inbound request. Message
// is safe to return to the caller; anything operator-facing goes to the
// log instead.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// Rejection reasons. Rate/quota rejections are expected steady-state
// conditions; upstream and storage failures surface as a generic 500.
var (
	ErrValidation       = &RequestError{Status: http.StatusBadRequest, Message: "Date invalide"}
	ErrEmptyMessage     = &RequestError{Status: http.StatusBadRequest, Message: "Mesajul nu poate fi gol"}
	ErrMessageTooLong   = &RequestError{Status: http.StatusBadRequest, Message: "Mesajul este prea lung"}
	ErrSuspiciousInput  = &RequestError{Status: http.StatusBadRequest, Message: "Mesajul conține conținut suspect. Reformulați."}
	ErrInvalidDevice    = &RequestError{Status: http.StatusBadRequest, Message: "Hash dispozitiv invalid"}
	ErrAccessRestricted = &RequestError{Status: http.StatusForbidden, Message: "Contul este programat pentru ștergere"}
	ErrRateLimited      = &RequestError{Status: http.StatusTooManyRequests, Message: "Prea multe solicitări. Așteptați un minut."}
	ErrQuotaExceeded    = &RequestError{Status: http.StatusTooManyRequests, Message: "Ați depășit limita zilnică de întrebări"}
	ErrUpstream         = &RequestError{Status: http.StatusInternalServerError, Message: "Nu am putut genera răspuns"}
	ErrInternal         = &RequestError{Status: http.StatusInternalServerError, Message: "Service unavailable"}
)

// Image validation rejections.
var (
	ErrImageCorrupt     = &RequestError{Status: http.StatusBadRequest, Message: "Imagine coruptă"}
	ErrImageTooLarge    = &RequestError{Status: http.StatusBadRequest, Message: "Imagine prea mare (maxim 4MB)"}
	ErrImageBadFormat   = &RequestError{Status: http.StatusBadRequest, Message: "Format invalid. Acceptăm JPEG sau PNG."}
	ErrImageDimensions  = &RequestError{Status: http.StatusBadRequest, Message: "Dimensiuni prea mari (maxim 4096x4096 pixeli)"}
	ErrImageTooSmall    = &RequestError{Status: http.StatusBadRequest, Message: "Imaginea este prea mică (minim 200x200 pixeli)"}
	ErrImageAspectRatio = &RequestError{Status: http.StatusBadRequest, Message: "Proporții nepotrivite pentru plante"}
)
