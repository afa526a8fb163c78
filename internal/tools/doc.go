// Package tools defines the data model shared across the UTCP client
// runtime: tools and their schemas, call templates, provider records, the
// manual envelope, qualified tool names, and the error taxonomy.
//
// A qualified tool name has the form "provider.local". The provider part
// never contains a dot (names are normalized at registration), so splitting
// on the first dot is always unambiguous even when local names contain dots.
package tools
