package network

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate *validator.Validate
	// OptErrTranslations is the translator for human readable
	// validation errors.
	OptErrTranslations ut.Translator
)

func init() {
	validate = validator.New()
	english := en.New()
	uni := ut.New(english, english)
	var ok bool
	OptErrTranslations, ok = uni.GetTranslator("en")
	if !ok {
		panic("internal error: failed to init translator")
	}
	if err := entranslations.RegisterDefaultTranslations(validate, OptErrTranslations); err != nil {
		panic(err)
	}
}

// Limits contains the rate limits and worker counts for a run.  It can
// be overridden from a TOML config file by the CLI.
type Limits struct {
	// Workers is the number of channel crawl workers.
	Workers int `toml:"workers" validate:"gte=1,lte=16"`
	// DownloadWorkers is the number of attachment download workers.
	DownloadWorkers int `toml:"download_workers" validate:"gte=1,lte=16"`
	// DownloadRetries is the number of attempts for each attachment
	// download.
	DownloadRetries int `toml:"download_retries" validate:"gte=1"`
	// API is the limit on web API calls.
	API TierLimit `toml:"api"`
	// CDN is the limit on attachment downloads.
	CDN TierLimit `toml:"cdn"`
	// Request holds the per-request parameters.
	Request RequestLimit `toml:"request"`
}

// TierLimit is a single rate limit tier.
type TierLimit struct {
	// Boost is added to the base events-per-minute rate.
	Boost int `toml:"boost" validate:"gte=0"`
	// Burst is the limiter burst, requests per second.
	Burst uint `toml:"burst" validate:"gte=1"`
	// Retries is the number of retries for transient errors.
	Retries int `toml:"retries" validate:"gte=1"`
}

// RequestLimit holds the request parameters.
type RequestLimit struct {
	// Messages is the expected messages page size.  The endpoint is not
	// tunable; a page shorter than this signals the end of history.
	Messages int `toml:"messages" validate:"gte=1,lte=100"`
}

// DefLimits are the default limits, matching the cadence the original
// web client keeps without getting throttled.
var DefLimits = Limits{
	Workers:         4,
	DownloadWorkers: 4,
	DownloadRetries: 3,
	API: TierLimit{
		Boost:   0,
		Burst:   1,
		Retries: 3,
	},
	CDN: TierLimit{
		Boost:   0,
		Burst:   1,
		Retries: 3,
	},
	Request: RequestLimit{
		Messages: 50,
	},
}

// Validate checks the limits and returns a validator error on any
// out-of-range value.
func (o *Limits) Validate() error {
	return validate.Struct(o)
}

// Apply overwrites o with other, if other is valid.
func (o *Limits) Apply(other Limits) error {
	if err := other.Validate(); err != nil {
		return err
	}
	*o = other
	return nil
}
