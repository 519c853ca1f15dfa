package karafile

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// SupportedSeriesVersion is the newest series descriptor schema version
// this pipeline understands. Files declaring a newer version are rejected
// outright so an old server never silently misreads a new corpus.
const SupportedSeriesVersion = 3

// seriesFile mirrors the on-disk JSON layout of one series descriptor.
type seriesFile struct {
	Header seriesHeader `json:"header" validate:"required"`
	Series seriesBody   `json:"series" validate:"required"`
}

type seriesHeader struct {
	Version     int    `json:"version" validate:"required,gte=1"`
	Description string `json:"description"`
}

type seriesBody struct {
	SID       string            `json:"sid" validate:"required,uuid4"`
	Name      string            `json:"name" validate:"required"`
	Aliases   []string          `json:"aliases" validate:"omitempty,dive,required"`
	I18n      map[string]string `json:"i18n" validate:"omitempty,dive,keys,bcp47_language_tag,endkeys,required"`
	SerieFile string            `json:"seriefile"`
}

var seriesValidate = validator.New()

// ParseSeries parses and validates one series descriptor file.
// Series files are authoritative: any failure here is a hard per-file
// failure that aborts the whole rebuild.
func ParseSeries(data []byte) (*domain.Series, error) {
	var sf seriesFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidation, "malformed series JSON")
	}

	if sf.Header.Version > SupportedSeriesVersion {
		return nil, errors.Unsupportedf(
			"series file version %d is newer than supported version %d",
			sf.Header.Version, SupportedSeriesVersion)
	}

	if err := seriesValidate.Struct(&sf); err != nil {
		return nil, errors.ValidationWithDetails("series file validation failed", fieldErrors(err))
	}

	s := &domain.Series{
		SID:       sf.Series.SID,
		Name:      sf.Series.Name,
		Aliases:   sf.Series.Aliases,
		I18n:      sf.Series.I18n,
		SerieFile: sf.Series.SerieFile,
	}
	return s, nil
}

// fieldErrors flattens validator errors into a field -> message map for
// the diagnostic report.
func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
