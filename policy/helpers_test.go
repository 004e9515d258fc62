package policy_test

import (
	"fmt"
	"time"

	"github.com/pithecene-io/voxlink/types"
)

func directive(n int, namespace string) *types.Directive {
	return &types.Directive{
		ContextID:  "ctx-1",
		Namespace:  namespace,
		Name:       "Speak",
		MessageID:  fmt.Sprintf("m-%d", n),
		Message:    fmt.Sprintf(`{"directive":{"header":{"namespace":%q,"name":"Speak","messageId":"m-%d"}}}`, namespace, n),
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func attachmentRecord(id string, data string) *types.AttachmentRecord {
	return &types.AttachmentRecord{
		AttachmentID: "ctx-1:" + id,
		ContextID:    "ctx-1",
		ContentID:    id,
		Size:         int64(len(data)),
		Data:         []byte(data),
		ReceivedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
