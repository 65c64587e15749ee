package model

import "time"

// ================ Config ================

type HTTPConfig struct {
	Addr             string        `envconfig:"HTTP_ADDR" default:":8000"`
	ReadTimeout      time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout     time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout  time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
	StreamChunkDelay time.Duration `envconfig:"STREAM_CHUNK_DELAY" default:"100ms"`
	AllowedOrigins   []string      `envconfig:"HTTP_ALLOWED_ORIGINS" default:"*"`
}

type VectorStoreConfig struct {
	Type              string `envconfig:"VECTOR_STORE_TYPE" default:"memory"`
	DataPath          string `envconfig:"VECTOR_STORE_DATA_PATH" default:"data/vector_store.db"`
	ResourcePath      string `envconfig:"VECTOR_STORE_RESOURCE_PATH" default:"resources"`
	DefaultCollection string `envconfig:"VECTOR_STORE_DEFAULT_COLLECTION" default:"default"`
}

type QdrantConfig struct {
	Host   string `envconfig:"QDRANT_HOST" default:"localhost"`
	Port   int    `envconfig:"QDRANT_PORT" default:"6334"`
	APIKey string `envconfig:"QDRANT_API_KEY"`
	UseTLS bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
}

type EmbeddingConfig struct {
	Type      string `envconfig:"EMBEDDING_TYPE" default:"hash"`
	Model     string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	APIKey    string `envconfig:"EMBEDDING_API_KEY"`
	BaseURL   string `envconfig:"EMBEDDING_BASE_URL"`
}

type LLMConfig struct {
	Type        string  `envconfig:"LLM_TYPE" default:"gemini"`
	Model       string  `envconfig:"LLM_NAME" default:"gemini-2.5-flash"`
	APIKey      string  `envconfig:"LLM_API_KEY"`
	BaseURL     string  `envconfig:"LLM_LOCAL_SERVER"`
	Temperature float32 `envconfig:"LLM_TEMPERATURE" default:"0"`
	MaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"2000"`
}

type RetrievalConfig struct {
	TopK        int     `envconfig:"RETRIEVAL_TOP_K" default:"10"`
	SearchTopK  int     `envconfig:"RETRIEVAL_SEARCH_TOP_K" default:"5"`
	MaxDistance float64 `envconfig:"RETRIEVAL_MAX_DISTANCE" default:"1.0"`
}

type IngestConfig struct {
	BatchSize    int `envconfig:"INGEST_BATCH_SIZE" default:"10"`
	Concurrency  int `envconfig:"INGEST_CONCURRENCY" default:"1"`
	ChunkSize    int `envconfig:"INGEST_CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"INGEST_CHUNK_OVERLAP" default:"200"`
	CrawlDepth   int `envconfig:"INGEST_CRAWL_DEPTH" default:"5"`
	CrawlLimit   int `envconfig:"INGEST_CRAWL_LIMIT" default:"200"`
}

type MemoryConfig struct {
	Backend string        `envconfig:"MEMORY_BACKEND" default:"memory"`
	TTL     time.Duration `envconfig:"MEMORY_TTL" default:"0"`
}

type ConversationConfig struct {
	Mode  string `envconfig:"ORCHESTRATOR_MODE" default:"sequential"`
	Tools struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"3"`
	}
	History struct {
		MaxMessages int `envconfig:"CONVERSATION_HISTORY_MAX_MESSAGES" default:"20"`
	}
	CostEnabled bool `envconfig:"COST_ENABLED" default:"true"`
}
