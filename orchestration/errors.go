package orchestration

import "errors"

var (
	// ErrReflectorRequired is returned when no reflector is configured.
	ErrReflectorRequired = errors.New("reflector required")

	// ErrRetrieverRequired is returned when no retriever is configured.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrRerankerRequired is returned when no reranker is configured.
	ErrRerankerRequired = errors.New("reranker required")

	// ErrProviderSourceRequired is returned when no provider source is configured.
	ErrProviderSourceRequired = errors.New("provider source required")

	// ErrCompleterRequired is returned when no completion gateway is configured.
	ErrCompleterRequired = errors.New("completer required")

	// ErrEmptyResponse is returned when the provider produced no text.
	ErrEmptyResponse = errors.New("provider returned an empty response")
)
