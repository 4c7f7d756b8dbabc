package mcpserver

// DescriptorContract describes how stored highlight records address text,
// for clients reading or producing records.
const DescriptorContract = `# Marker Highlight Record Contract

Highlights are stored per page under the page's exact URI. Keys are compared
byte for byte: ` + "`" + `https://a.test/x` + "`" + ` and ` + "`" + `https://a.test/x/` + "`" + ` are different pages.

## Record

` + "```" + `json
{
  "id": "0190f1c2-...",             // assigned on append (UUIDv7)
  "markup": "lo <b>big</b> wo",     // sanitized HTML of the selection, informational
  "text": "lo big wo",              // plain text of the selection
  "position": {
    "start_node_index": 0,
    "start_offset": 3,
    "end_node_index": 2,
    "end_offset": 3
  },
  "created_at": "2026-01-02T03:04:05Z"
}
` + "```" + `

## Position descriptor

1. **Node indexes** count text nodes under ` + "`" + `<body>` + "`" + ` in depth-first document
   order, starting at 0. Element, comment and whitespace-free structure do not count;
   whitespace-only text nodes do.
2. **Offsets** count UTF-16 code units inside the addressed text node, the same unit
   a browser DOM Range uses. An offset never splits a surrogate pair.
3. A descriptor never spans backward: the start node index is at most the end node
   index, and within one node the start offset is at most the end offset.
4. Descriptors are **not self-verifying**. They address whatever text nodes exist when
   decoded. Painting a highlight splits text nodes, so a page's records must be
   re-applied one at a time in saved order, each against the tree the earlier ones left.
5. ` + "`" + `markup` + "`" + ` is never used to locate text. A record whose position no longer
   resolves is skipped.

## Messages

Page contexts exchange JSON envelopes ` + "`" + `{"type": ..., "payload": ..., "error": ...}` + "`" + `:

- ` + "`" + `fetch_historical_highlight_info` + "`" + ` with ` + "`" + `{"page_key"}` + "`" + ` returns ` + "`" + `{"records": [...]}` + "`" + `.
- ` + "`" + `get_highlight_info` + "`" + ` with ` + "`" + `{"page_key", "records": [...]}` + "`" + ` appends the records
  and returns them as stored. A record carrying an already stored ` + "`" + `id` + "`" + ` is not appended twice.
`
