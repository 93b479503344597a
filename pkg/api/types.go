package api

import (
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
)

// TrackResponse is returned for a single recorded event.
type TrackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"event_id,omitempty"`
}

// BatchItemResult is the outcome of one item of a batch.
type BatchItemResult struct {
	ModuleName string   `json:"module_name"`
	Success    bool     `json:"success"`
	EventID    string   `json:"event_id,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// BatchResponse lists per-item results in request order.
type BatchResponse struct {
	Results []BatchItemResult `json:"results"`
}

// MetricsDTO is the wire form of analytics.AccessMetrics.
type MetricsDTO struct {
	TotalAccesses          int            `json:"total_accesses"`
	UniqueUsers            int            `json:"unique_users"`
	AverageSessionSeconds  float64        `json:"average_session_seconds"`
	AverageSessionMinutes  float64        `json:"average_session_minutes"`
	FirstAccess            *time.Time     `json:"first_access"`
	LastAccess             *time.Time     `json:"last_access"`
	AccessFrequency        float64        `json:"access_frequency"`
	AccessTypeDistribution map[string]int `json:"access_type_distribution"`
}

// ModuleHeatData is one row of a heat map response.
type ModuleHeatData struct {
	ModuleName            string         `json:"module_name"`
	DisplayName           string         `json:"display_name"`
	Category              string         `json:"category"`
	HeatScore             int            `json:"heat_score"`
	TotalAccesses         int            `json:"total_accesses"`
	UniqueUsers           int            `json:"unique_users"`
	AverageSessionMinutes float64        `json:"average_session_minutes"`
	AccessFrequency       float64        `json:"access_frequency"`
	LastAccess            *time.Time     `json:"last_access"`
	TopUsers              []string       `json:"top_users"`
	HourlyDistribution    map[string]int `json:"hourly_distribution"`
}

// HeatMapSummaryDTO is the wire form of analytics.HeatMapSummary.
type HeatMapSummaryDTO struct {
	TotalModules     int    `json:"total_modules"`
	ActiveModules    int    `json:"active_modules"`
	UnusedModules    int    `json:"unused_modules"`
	TotalAccesses    int    `json:"total_accesses"`
	TotalUniqueUsers int    `json:"total_unique_users"`
	MostUsedModule   string `json:"most_used_module"`
	LeastUsedModule  string `json:"least_used_module"`
}

// HeatMapResponse is the body of GET /api/analytics/{applicationId}/heatmap.
type HeatMapResponse struct {
	ApplicationID string            `json:"application_id"`
	StartDate     time.Time         `json:"start_date"`
	EndDate       time.Time         `json:"end_date"`
	Modules       []ModuleHeatData  `json:"modules"`
	Summary       HeatMapSummaryDTO `json:"summary"`
}

// Period is a resolved query window.
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// ModuleAnalyticsResponse is the body of the module analytics route.
type ModuleAnalyticsResponse struct {
	ApplicationID string     `json:"application_id"`
	ModuleName    string     `json:"module_name"`
	Period        Period     `json:"period"`
	Metrics       MetricsDTO `json:"metrics"`
}

// UnusedModulesResponse is the body of the unused modules route.
type UnusedModulesResponse struct {
	ApplicationID       string    `json:"application_id"`
	DaysSinceLastAccess int       `json:"days_since_last_access"`
	Cutoff              time.Time `json:"cutoff"`
	UnusedModules       []string  `json:"unused_modules"`
	Count               int       `json:"count"`
	Recommendations     []string  `json:"recommendations"`
}

// TopUsersResponse is the body of the top users route.
type TopUsersResponse struct {
	ApplicationID   string   `json:"application_id"`
	ModuleName      string   `json:"module_name"`
	Period          Period   `json:"period"`
	TopUsers        []string `json:"top_users"`
	Recommendations []string `json:"recommendations"`
}

// ModuleDescriptorDTO is the wire form of a registry entry.
type ModuleDescriptorDTO struct {
	ApplicationID string     `json:"application_id"`
	Name          string     `json:"name"`
	DisplayName   string     `json:"display_name"`
	Path          string     `json:"path,omitempty"`
	Description   string     `json:"description,omitempty"`
	Category      string     `json:"category"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     *time.Time `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// ModuleListResponse is the body of GET /api/applications/{applicationId}/modules.
type ModuleListResponse struct {
	ApplicationID string                `json:"application_id"`
	Modules       []ModuleDescriptorDTO `json:"modules"`
	Count         int                   `json:"count"`
}

// UpsertModuleRequest registers or updates a module descriptor. The
// application and module name come from the path.
type UpsertModuleRequest struct {
	DisplayName string `json:"display_name" validate:"max=200"`
	Path        string `json:"path" validate:"max=2048"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"max=100"`
	IsActive    *bool  `json:"is_active"`
}

// ServiceInfo is returned from GET /.
type ServiceInfo struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

var (
	unusedModuleRecommendations = []string{
		"Consider discontinuing unused modules",
		"Evaluate whether these modules need user training",
		"Check for usability problems in abandoned modules",
	}
	topUserRecommendations = []string{
		"Frequent users are good candidates for improvement feedback",
		"Consider mentoring programs with experienced users",
		"Analyze these users' usage patterns to optimize the experience",
	}
)

// timePtr maps the zero time to nil so it encodes as null.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func toMetricsDTO(m analytics.AccessMetrics) MetricsDTO {
	dist := make(map[string]int, len(m.AccessTypeDistribution))
	for t, n := range m.AccessTypeDistribution {
		dist[t.String()] = n
	}
	return MetricsDTO{
		TotalAccesses:          m.TotalAccesses,
		UniqueUsers:            m.UniqueUsers,
		AverageSessionSeconds:  m.AverageSessionDuration.Seconds(),
		AverageSessionMinutes:  m.AverageSessionDuration.Minutes(),
		FirstAccess:            timePtr(m.FirstAccess),
		LastAccess:             timePtr(m.LastAccess),
		AccessFrequency:        m.AccessFrequency,
		AccessTypeDistribution: dist,
	}
}

func toModuleHeatData(e analytics.HeatMapEntry) ModuleHeatData {
	topUsers := e.TopUsers
	if topUsers == nil {
		topUsers = []string{}
	}
	hourly := e.HourlyDistribution
	if hourly == nil {
		hourly = map[string]int{}
	}
	return ModuleHeatData{
		ModuleName:            e.ModuleName,
		DisplayName:           e.DisplayName,
		Category:              e.Category,
		HeatScore:             e.HeatScore,
		TotalAccesses:         e.Metrics.TotalAccesses,
		UniqueUsers:           e.Metrics.UniqueUsers,
		AverageSessionMinutes: e.Metrics.AverageSessionDuration.Minutes(),
		AccessFrequency:       e.Metrics.AccessFrequency,
		LastAccess:            timePtr(e.Metrics.LastAccess),
		TopUsers:              topUsers,
		HourlyDistribution:    hourly,
	}
}

func toSummaryDTO(s analytics.HeatMapSummary) HeatMapSummaryDTO {
	return HeatMapSummaryDTO{
		TotalModules:     s.TotalModules,
		ActiveModules:    s.ActiveModules,
		UnusedModules:    s.UnusedModules,
		TotalAccesses:    s.TotalAccesses,
		TotalUniqueUsers: s.TotalUniqueUsers,
		MostUsedModule:   s.MostUsedModule,
		LeastUsedModule:  s.LeastUsedModule,
	}
}

func toHeatMapResponse(hm *analytics.HeatMap) HeatMapResponse {
	modules := make([]ModuleHeatData, 0, len(hm.Modules))
	for _, e := range hm.Modules {
		modules = append(modules, toModuleHeatData(e))
	}
	return HeatMapResponse{
		ApplicationID: hm.ApplicationID,
		StartDate:     hm.Window.Start,
		EndDate:       hm.Window.End,
		Modules:       modules,
		Summary:       toSummaryDTO(hm.Summary),
	}
}

func toDescriptorDTO(d analytics.ModuleDescriptor) ModuleDescriptorDTO {
	return ModuleDescriptorDTO{
		ApplicationID: d.ApplicationID,
		Name:          d.Name,
		DisplayName:   d.DisplayName,
		Path:          d.Path,
		Description:   d.Description,
		Category:      d.Category,
		IsActive:      d.IsActive,
		CreatedAt:     timePtr(d.CreatedAt),
		UpdatedAt:     timePtr(d.UpdatedAt),
	}
}

func toModuleDescriptor(applicationID, name string, req UpsertModuleRequest) *analytics.ModuleDescriptor {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &analytics.ModuleDescriptor{
		ApplicationID: applicationID,
		Name:          name,
		DisplayName:   req.DisplayName,
		Path:          req.Path,
		Description:   req.Description,
		Category:      req.Category,
		IsActive:      active,
	}
}

func periodOf(w analytics.Window) Period {
	return Period{StartDate: w.Start, EndDate: w.End}
}
