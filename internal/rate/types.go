package rate

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// Headers describes provider-specific rate limit response headers.
type Headers struct {
	LimitMinute     string
	RemainingMinute string
	LimitHour       string
	RemainingHour   string
	RetryAfter      string
}

// KongHeaders returns the header mapping used by Kong-fronted vendor APIs.
func KongHeaders() Headers {
	return Headers{
		LimitMinute:     "X-RateLimit-Limit-minute",
		RemainingMinute: "X-RateLimit-Remaining-minute",
		LimitHour:       "X-RateLimit-Limit-hour",
		RemainingHour:   "X-RateLimit-Remaining-hour",
		RetryAfter:      "Retry-After",
	}
}

// Declaration defines a provider's rate limits and header mapping.
type Declaration struct {
	provider    string
	limits      map[Window]int
	budgetFloor map[Window]int
	headers     Headers
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, headers: KongHeaders()}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer sets the local token-bucket budget used until the provider's
// own headers take over.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// BudgetFloor reserves headroom below the provider-reported remaining budget.
func (d Declaration) BudgetFloor(window Window, floor int) Declaration {
	floors := make(map[Window]int, len(d.budgetFloor)+1)
	for w, f := range d.budgetFloor {
		floors[w] = f
	}
	floors[window] = floor
	d.budgetFloor = floors
	return d
}

// WithHeaders overrides the response header mapping.
func (d Declaration) WithHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) BudgetFloors() map[Window]int {
	return d.budgetFloor
}

func (d Declaration) Headers() Headers {
	return d.headers
}
