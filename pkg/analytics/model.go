package analytics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccessType classifies how a user touched a module. The numeric codes are
// persisted and must not change.
type AccessType int

const (
	AccessView     AccessType = 1
	AccessClick    AccessType = 2
	AccessForm     AccessType = 3
	AccessDownload AccessType = 4
	AccessUpload   AccessType = 5
	AccessSearch   AccessType = 6
	AccessExport   AccessType = 7
	AccessImport   AccessType = 8
	AccessCustom   AccessType = 99
)

var accessTypeNames = map[AccessType]string{
	AccessView:     "View",
	AccessClick:    "Click",
	AccessForm:     "Form",
	AccessDownload: "Download",
	AccessUpload:   "Upload",
	AccessSearch:   "Search",
	AccessExport:   "Export",
	AccessImport:   "Import",
	AccessCustom:   "Custom",
}

// AccessTypes returns every defined access type in code order.
func AccessTypes() []AccessType {
	return []AccessType{
		AccessView, AccessClick, AccessForm, AccessDownload,
		AccessUpload, AccessSearch, AccessExport, AccessImport, AccessCustom,
	}
}

func (t AccessType) String() string {
	if name, ok := accessTypeNames[t]; ok {
		return name
	}
	return "AccessType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the defined access types.
func (t AccessType) Valid() bool {
	_, ok := accessTypeNames[t]
	return ok
}

// ParseAccessType accepts a type name (case-insensitive) or its numeric code.
func ParseAccessType(s string) (AccessType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		t := AccessType(n)
		if !t.Valid() {
			return 0, fmt.Errorf("unknown access type code %d", n)
		}
		return t, nil
	}
	for t, name := range accessTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown access type %q", s)
}

func (t AccessType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid access type %d", int(t))
	}
	return json.Marshal(t.String())
}

func (t *AccessType) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var parsed AccessType
	var err error
	switch v := raw.(type) {
	case string:
		parsed, err = ParseAccessType(v)
	case float64:
		parsed, err = ParseAccessType(strconv.Itoa(int(v)))
	default:
		err = fmt.Errorf("access type must be a string or number")
	}
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText lets AccessType be used as a JSON object key.
func (t AccessType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid access type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *AccessType) UnmarshalText(text []byte) error {
	parsed, err := ParseAccessType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AccessEvent is a single recorded module access. Events are write-once.
type AccessEvent struct {
	ID            string
	ApplicationID string
	UserID        string
	ModuleName    string
	ModuleURL     string
	AccessType    AccessType
	AccessedAt    time.Time
	Duration      time.Duration
	UserAgent     string
	IPAddress     string
	Metadata      map[string]interface{}
}

// ModuleDescriptor is optional registry metadata for a module. Only
// DisplayName and Category influence analytics output.
type ModuleDescriptor struct {
	ApplicationID string
	Name          string
	DisplayName   string
	Path          string
	Description   string
	Category      string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DefaultCategory is used for modules without a registered category.
const DefaultCategory = "Other"

// AccessMetrics summarizes a set of events. A zero FirstAccess or LastAccess
// means no events were observed.
type AccessMetrics struct {
	TotalAccesses          int
	UniqueUsers            int
	AverageSessionDuration time.Duration
	FirstAccess            time.Time
	LastAccess             time.Time
	AccessFrequency        float64
	AccessTypeDistribution map[AccessType]int
}

// HeatMapEntry is the per-module row of a heat map.
type HeatMapEntry struct {
	ModuleName         string
	DisplayName        string
	Category           string
	HeatScore          int
	Metrics            AccessMetrics
	TopUsers           []string
	HourlyDistribution map[string]int
}

// HeatMapSummary aggregates a heat map for dashboard headers.
type HeatMapSummary struct {
	TotalModules     int
	ActiveModules    int
	UnusedModules    int
	TotalAccesses    int
	TotalUniqueUsers int
	MostUsedModule   string
	LeastUsedModule  string
}

// Window is a closed time range [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window, normalizing both ends to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// TrailingWindow returns the window of the given length ending at now.
func TrailingWindow(now time.Time, length time.Duration) Window {
	return NewWindow(now.Add(-length), now)
}

// Empty reports whether the window is inverted.
func (w Window) Empty() bool {
	return w.End.Before(w.Start)
}

// Days is the window length in fractional days, floored at one day.
func (w Window) Days() float64 {
	days := w.End.Sub(w.Start).Hours() / 24
	if days < 1 {
		return 1
	}
	return days
}

// Contains reports whether t falls within the window, inclusive on both ends.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
