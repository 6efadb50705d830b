// Package embeddings turns draft text into vectors for the similarity index.
//
// Four providers are available: "hash" (offline feature hashing, the
// default), "tei" (a Text Embeddings Inference server), "openai" (any
// OpenAI-compatible embeddings endpoint) and "fastembed" (local ONNX models,
// cgo builds only). NewProvider wraps each with OpenTelemetry metrics.
package embeddings
