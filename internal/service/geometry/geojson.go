package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"geotables/internal/domain"
)

// DefaultCRS is attached to payloads that do not name a reference system.
const DefaultCRS = "EPSG:4326"

var errEmptyGeometry = errors.New("empty geometry")

// ParseGeoJSON validates a GeoJSON geometry or feature given as a string,
// bytes or decoded map. It returns the geometry re-encoded with a crs member
// (DefaultCRS unless the payload names one) and the geometry's kind.
// Malformed payloads yield InvalidGeometryFormatError.
func ParseGeoJSON(raw any) (string, domain.GeometryKind, error) {
	data, err := payloadBytes(raw)
	if err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}

	var envelope struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
		CRS      json.RawMessage `json:"crs"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}
	crs := envelope.CRS
	if envelope.Type == "Feature" {
		if len(envelope.Geometry) == 0 || string(envelope.Geometry) == "null" {
			return "", "", &domain.InvalidGeometryFormatError{Err: errEmptyGeometry}
		}
		data = envelope.Geometry
		var inner struct {
			CRS json.RawMessage `json:"crs"`
		}
		if err := json.Unmarshal(data, &inner); err == nil && len(inner.CRS) > 0 {
			crs = inner.CRS
		}
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}
	if g.Geometry() == nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: errEmptyGeometry}
	}

	encoded, err := g.MarshalJSON()
	if err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &out); err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}
	if len(crs) == 0 || string(crs) == "null" {
		crs = json.RawMessage(fmt.Sprintf(`{"type":"name","properties":{"name":%q}}`, DefaultCRS))
	}
	out["crs"] = crs
	result, err := json.Marshal(out)
	if err != nil {
		return "", "", &domain.InvalidGeometryFormatError{Err: err}
	}
	return string(result), domain.ParseGeometryKind(g.Geometry().GeoJSONType()), nil
}

func payloadBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case map[string]any:
		return json.Marshal(v)
	case nil:
		return nil, errEmptyGeometry
	default:
		return nil, fmt.Errorf("unsupported geometry payload %T", raw)
	}
}
