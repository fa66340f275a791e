// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the incremental chat-streaming protocol client.
//
// The server answers a send request with a chunked response carrying
// newline-delimited frames:
//
//	data: {"token":"Hel"}
//	data: {"token":"lo"}
//	data: [DONE]
//
// Decoder reconstructs discrete events (Token, Error, Done) from arbitrarily
// fragmented chunks; Client issues the request, pumps the decoder, and
// delivers events through Callbacks. A Handle returned from Start supports
// mid-stream cancellation: failures caused by an abort are silent, genuine
// transport failures surface as Error.
package stream
