package translator

// NewBackends constructs one backend per supported endpoint kind.
func NewBackends(creds Credentials) []Backend {
	return []Backend{
		NewOpenRouterBackend(creds.OpenRouterAPIKey, creds.OpenRouterBaseURL),
		NewOllamaBackend(creds.OllamaBaseURL),
		NewGoogleBackend(creds.GoogleCredentials),
		NewMyMemoryBackend(creds.MyMemoryEmail),
		NewLambdaBackend(creds.LambdaRegion),
	}
}

// Kinds lists the endpoint kinds NewBackends can serve.
func Kinds() []string {
	return []string{"openrouter", "ollama", "google", "mymemory", "lambda"}
}
