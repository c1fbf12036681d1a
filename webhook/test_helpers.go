package webhook

import "github.com/stretchr/testify/mock"

// MatchEvent creates a custom matcher for event arguments in mocks
func MatchEvent(matcher func(Event) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchEndpoint creates a custom matcher for endpoint arguments in mocks
func MatchEndpoint(matcher func(Endpoint) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchProcessingLog creates a custom matcher for processing log arguments in mocks
func MatchProcessingLog(matcher func(ProcessingLog) bool) interface{} {
	return mock.MatchedBy(matcher)
}
