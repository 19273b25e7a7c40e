// Package mcp implements the Model Context Protocol (MCP), providing a framework for integrating
// Large Language Models (LLMs) with external data sources and tools. This implementation follows
// the official specification from https://spec.modelcontextprotocol.io/specification/.
//
// The package enables seamless integration between LLM applications and external data sources
// through a standardized protocol, making it suitable for building AI-powered IDEs, enhancing
// chat interfaces, or creating custom AI workflows.
package mcp
