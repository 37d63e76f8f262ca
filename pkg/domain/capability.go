package domain

import (
	"strings"
	"time"
)

// CapabilityName identifies one member of the closed capability set.
type CapabilityName string

const (
	CapabilityWeather      CapabilityName = "get_weather"
	CapabilityWebSearch    CapabilityName = "web_search"
	CapabilityTavilySearch CapabilityName = "tavily_search"
	CapabilityCodeExecutor CapabilityName = "code_executor"

	CapabilityRetrieveInfo    CapabilityName = "retrieve_info_tool"
	CapabilityRetrieveDomains CapabilityName = "retrieve_domains_tool"
	CapabilityRetrieveEvents  CapabilityName = "retrieve_events_tool"
	CapabilityRetrieveFAQs    CapabilityName = "retrieve_faqs_tool"
	CapabilityRetrieveMembers CapabilityName = "retrieve_members_tool"
	CapabilityRetrieveFaculty CapabilityName = "retrieve_faculty_tool"
)

// KnownCapabilities lists every capability name in declaration order.
func KnownCapabilities() []CapabilityName {
	return []CapabilityName{
		CapabilityWeather,
		CapabilityWebSearch,
		CapabilityTavilySearch,
		CapabilityCodeExecutor,
		CapabilityRetrieveInfo,
		CapabilityRetrieveDomains,
		CapabilityRetrieveEvents,
		CapabilityRetrieveFAQs,
		CapabilityRetrieveMembers,
		CapabilityRetrieveFaculty,
	}
}

// Valid reports whether n belongs to the closed capability set.
func (n CapabilityName) Valid() bool {
	for _, k := range KnownCapabilities() {
		if k == n {
			return true
		}
	}
	return false
}

// IsRetrieval reports whether n is an internal knowledge-retrieval capability.
func (n CapabilityName) IsRetrieval() bool {
	return strings.HasPrefix(string(n), "retrieve_")
}

// CapabilityDomain groups capabilities by the kind of information they provide.
type CapabilityDomain string

const (
	DomainWeather       CapabilityDomain = "weather"
	DomainWebSearch     CapabilityDomain = "web_search"
	DomainCodeExecution CapabilityDomain = "code_execution"
	DomainKnowledge     CapabilityDomain = "knowledge"
)

// Request is the uniform input of a capability invocation.
type Request struct {
	Query string         `json:"query"`
	Args  map[string]any `json:"args,omitempty"`
}

// Status is the uniform outcome of a capability invocation.
type Status string

const (
	StatusOK              Status = "ok"
	StatusTimeout         Status = "timeout"
	StatusInvocationError Status = "invocation_error"
	StatusInvalidResponse Status = "invalid_response"
)

// Result is a successful capability invocation.
type Result struct {
	Capability CapabilityName
	Payload    string
	Attempts   int
	Duration   time.Duration
}

// Attempt records one capability call made by the tool router.
type Attempt struct {
	Capability CapabilityName `json:"capability"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// CapabilityInfo is the public description of a registered capability.
type CapabilityInfo struct {
	Name        CapabilityName   `json:"name"`
	Domain      CapabilityDomain `json:"domain"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
}

// ToolType classifies the capabilities used in a turn: "rag" when the first
// is a knowledge retrieval, "custom" for any other, "none" when empty.
func ToolType(used []CapabilityName) string {
	if len(used) == 0 {
		return "none"
	}
	if used[0].IsRetrieval() {
		return "rag"
	}
	return "custom"
}
