package utils_test

import (
	"testing"

	"github.com/arutyunov/foundry-proxy/internal/constants"
	"github.com/arutyunov/foundry-proxy/internal/utils"
)

const (
	emptyStringValue      = constants.EmptyString
	whitespaceStringValue = " \t\n"
	wordStringValue       = "hello"
	spacedWordStringValue = "  hello  "
	bearerHeaderValue     = "Bearer secret-value"
	lowercaseBearerValue  = "bearer secret-value"
	basicHeaderValue      = "Basic secret-value"
	bearerPrefix          = "Bearer "
	tokenPrefix           = "Token "
	apiKeyPrefix          = "ApiKey "
)

type isBlankTestDefinition struct {
	testName      string
	inputValue    string
	expectedValue bool
}

// TestIsBlank_IdentifiesBlankStrings verifies that IsBlank correctly identifies blank strings.
func TestIsBlank_IdentifiesBlankStrings(testingInstance *testing.T) {
	testCases := []isBlankTestDefinition{
		{testName: "empty string", inputValue: emptyStringValue, expectedValue: true},
		{testName: "whitespace string", inputValue: whitespaceStringValue, expectedValue: true},
		{testName: "word string", inputValue: wordStringValue, expectedValue: false},
		{testName: "spaced word string", inputValue: spacedWordStringValue, expectedValue: false},
	}
	for _, currentTestCase := range testCases {
		testingInstance.Run(currentTestCase.testName, func(nestedTestingInstance *testing.T) {
			actualBlank := utils.IsBlank(currentTestCase.inputValue)
			if actualBlank != currentTestCase.expectedValue {
				nestedTestingInstance.Fatalf("blank=%v expected=%v", actualBlank, currentTestCase.expectedValue)
			}
		})
	}
}

type hasAnyPrefixTestDefinition struct {
	testName      string
	value         string
	prefixes      []string
	expectedValue bool
}

// TestHasAnyPrefix_DetectsPrefixes verifies that HasAnyPrefix detects matching prefixes in a case-insensitive manner.
func TestHasAnyPrefix_DetectsPrefixes(testingInstance *testing.T) {
	testCases := []hasAnyPrefixTestDefinition{
		{testName: "direct match", value: bearerHeaderValue, prefixes: []string{bearerPrefix}, expectedValue: true},
		{testName: "case insensitive match", value: lowercaseBearerValue, prefixes: []string{bearerPrefix}, expectedValue: true},
		{testName: "multiple prefixes no match", value: basicHeaderValue, prefixes: []string{tokenPrefix, apiKeyPrefix}, expectedValue: false},
	}
	for _, currentTestCase := range testCases {
		testingInstance.Run(currentTestCase.testName, func(nestedTestingInstance *testing.T) {
			actualHasPrefix := utils.HasAnyPrefix(currentTestCase.value, currentTestCase.prefixes...)
			if actualHasPrefix != currentTestCase.expectedValue {
				nestedTestingInstance.Fatalf("hasPrefix=%v expected=%v", actualHasPrefix, currentTestCase.expectedValue)
			}
		})
	}
}
