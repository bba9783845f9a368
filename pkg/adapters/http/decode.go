package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aretw0/productflow/pkg/codec"
	"github.com/aretw0/productflow/pkg/domain"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON object into out, writing the error response on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		s.writeError(w, r, domain.NewError(domain.ErrValidation, "decode_body", "", operationIDFrom(r),
			"request body must be a JSON object").Wrap(err), nil)
		return false
	}
	if err := codec.Decode(raw, out); err != nil {
		s.writeError(w, r, domain.NewError(domain.ErrValidation, "decode_body", "", operationIDFrom(r),
			fmt.Sprintf("invalid payload: %v", err)), nil)
		return false
	}
	return true
}
