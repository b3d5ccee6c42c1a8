package protocol

// Envelope is the unit exchanged across the worker boundary.
type Envelope struct {
	Data any         `json:"data"`
	ID   string      `json:"id,omitempty"`
	Type MessageType `json:"type"`

	// Transfer marks Data as a raw byte buffer whose ownership moves to the
	// receiver instead of being duplicated. Not serialized.
	Transfer bool `json:"-"`
}

// Response builds the success response for req.
func Response(req Envelope, data any) Envelope {
	return Envelope{
		ID:       req.ID,
		Type:     req.Type,
		Data:     data,
		Transfer: NeedsTransfer(data),
	}
}

// ErrorResponse builds the single ERROR response for req.
func ErrorResponse(req Envelope, err error) Envelope {
	return Envelope{
		ID:   req.ID,
		Type: TypeError,
		Data: err.Error(),
	}
}

// Event builds an unsolicited event envelope.
func Event(t MessageType, data any) Envelope {
	return Envelope{Type: t, Data: data}
}

// NeedsTransfer reports whether data is a raw byte sequence that should be
// moved rather than copied.
func NeedsTransfer(data any) bool {
	_, ok := data.([]byte)
	return ok
}

// Err returns the error text carried by an ERROR response.
func (e Envelope) Err() (string, bool) {
	if e.Type != TypeError {
		return "", false
	}
	s, _ := Decode[string](e.Data)
	return s, true
}
