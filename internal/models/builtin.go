package models

import "github.com/WhyNeet/t3-chat-clone/internal/adapter/router"

func openRouter(identifier, name, author string, reasoning bool) Model {
	return Model{
		Identifier:  identifier,
		Name:        name,
		Provider:    router.ProviderOpenRouter,
		IsReasoning: reasoning,
		Author:      author,
	}
}

func defaultFree() []Model {
	return []Model{
		openRouter("google/gemini-2.0-flash-exp:free", "Gemini 2.0 Flash Experimental", "Google", false),
		openRouter("meta-llama/llama-4-maverick:free", "Llama 4 Maverick", "Meta", false),
		openRouter("deepseek/deepseek-r1-distill-llama-70b:free", "DeepSeek R1 Distill Llama 70B", "DeepSeek", true),
		openRouter("meta-llama/llama-4-scout:free", "Llama 4 Scout", "Meta", false),
		openRouter("nvidia/llama-3.1-nemotron-ultra-253b-v1:free", "Llama 3.1 Nemotron Ultra", "NVIDIA", true),
		openRouter("google/gemma-3-27b-it:free", "Gemma 3", "Google", false),
		openRouter("deepseek/deepseek-chat-v3-0324:free", "DeepSeek V3", "DeepSeek", false),
		openRouter("deepseek/deepseek-r1-0528:free", "DeepSeek R1", "DeepSeek", true),
		openRouter("tngtech/deepseek-r1t-chimera:free", "DeepSeek R1T Chimera", "TNG", true),
		openRouter("qwen/qwen3-235b-a22b:free", "Qwen 235B A22B", "Qwen", true),
		openRouter("qwen/qwq-32b:free", "QWQ 32B", "Qwen", true),
	}
}

func defaultPaid() []Model {
	return []Model{
		openRouter("anthropic/claude-sonnet-4", "Claude Sonnet 4", "Anthropic", true),
		openRouter("anthropic/claude-opus-4", "Claude Opus 4", "Anthropic", true),
		openRouter("google/gemini-2.5-pro-preview", "Gemini 2.5 Pro Preview", "Google", true),
		openRouter("openai/gpt-4o-mini", "GPT-4o-mini", "OpenAI", true),
		openRouter("google/gemini-2.5-flash-preview", "Gemini 2.5 Flash Preview", "Google", true),
		openRouter("google/gemini-2.5-flash-preview-05-20:thinking", "Gemini 2.5 Flash Preview (thinking)", "Google", true),
		openRouter("meta-llama/llama-3.1-70b-instruct", "Llama 3.1 70B Instruct", "Meta", true),
		openRouter("perplexity/llama-3.1-sonar-large-128k-online", "Llama 3.1 Sonar 70B Online", "Perplexity", true),
		openRouter("openai/gpt-4-turbo", "GPT-4 Turbo", "OpenAI", true),
	}
}
