package medicine

import (
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"MediStore/pkg/kit"
)

const (
	maxFormBytes  = 1 << 20
	maxFormMemory = 1 << 20
)

var (
	errFieldRequired = errors.New("field required")
	errNotANumber    = errors.New("value is not a valid float")
)

type medicineForm struct {
	Name  string
	Price float64
}

// formValues reads an urlencoded or multipart body for any method. The
// standard ParseForm ignores bodies on DELETE, which the delete route needs.
func formValues(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, err
		}
		return r.MultipartForm.Value, nil
	case "application/x-www-form-urlencoded":
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
		if err != nil {
			return nil, err
		}
		return url.ParseQuery(string(b))
	default:
		return url.Values{}, nil
	}
}

func parsePrice(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotANumber
	}
	return v, nil
}

// decodeForm writes a 422 and returns false when a required field is missing
// or malformed.
func (s *Server) decodeForm(w http.ResponseWriter, r *http.Request, withPrice bool) (medicineForm, bool) {
	vals, err := formValues(w, r)
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad form", map[string]any{"cause": err.Error()})
		return medicineForm{}, false
	}

	problems := map[string]any{}
	var f medicineForm

	// An empty value counts as a missing field.
	if f.Name = vals.Get("name"); f.Name == "" {
		problems["name"] = errFieldRequired.Error()
	}

	if withPrice {
		if raw := vals.Get("price"); raw == "" {
			problems["price"] = errFieldRequired.Error()
		} else if f.Price, err = parsePrice(raw); err != nil {
			problems["price"] = err.Error()
		}
	}

	if len(problems) > 0 {
		kit.WriteError(w, r, http.StatusUnprocessableEntity, "invalid form", problems)
		return medicineForm{}, false
	}
	return f, true
}
