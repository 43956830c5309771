// Package compress provides compression codecs for stored track payloads.
//
// Flux captures and timing overlays can be large (a single 24MHz capture of
// an 80-track disk easily exceeds 100MB) while being highly regular, so the
// serialization layer offers optional payload compression. This package
// implements the codecs behind that option:
//
//   - None: no compression (the default; round-trip is byte-identical)
//   - Zstd: best ratio, used for archival flux envelopes
//   - S2: balanced ratio and speed
//   - LZ4: fastest decompression, used for interactive re-decode workflows
//
// Codecs operate on whole payloads after envelope encoding. The envelope
// header records the compression type so a reader never has to guess.
//
// Zstd has two implementations selected at build time: the pure-Go
// klauspost/compress decoder (default) and valyala/gozstd behind the
// cgo_zstd build tag for throughput-critical batch conversion.
package compress
