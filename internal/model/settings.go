package model

// DefaultStalenessDays is used when settings do not set a threshold.
const DefaultStalenessDays = 180

// Settings are runtime options editable while the service runs.
type Settings struct {
	SearchProvider string            `json:"search_provider"`
	APIKeys        map[string]string `json:"api_keys,omitempty"`
	StalenessDays  int               `json:"staleness_days"`
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if s.StalenessDays <= 0 {
		s.StalenessDays = DefaultStalenessDays
	}
	if s.APIKeys == nil {
		s.APIKeys = map[string]string{}
	}
	return s
}
