package tools

import (
	"context"
	"fmt"

	"github.com/casavox/casavox/pkg/chat/store"
)

// CRM performs the durable side effects of a conversation: viewing requests
// and lead capture. Storage errors propagate; the caller decides how to
// phrase the failure.
type CRM struct {
	store store.Store
}

func NewCRM(st store.Store) *CRM {
	return &CRM{store: st}
}

func (c *CRM) ScheduleViewing(ctx context.Context, propertyID, when string, contact store.Contact) (store.Viewing, error) {
	if propertyID == "" {
		return store.Viewing{}, fmt.Errorf("schedule viewing: property id is required")
	}
	if contact.Name == "" || contact.Phone == "" {
		return store.Viewing{}, fmt.Errorf("schedule viewing: contact name and phone are required")
	}
	return c.store.CreateViewing(ctx, store.Viewing{
		PropertyID: propertyID,
		When:       when,
		Contact:    contact,
	})
}

func (c *CRM) CreateLead(ctx context.Context, contact store.Contact, source string, meta map[string]any) (store.Lead, error) {
	if contact.Name == "" {
		return store.Lead{}, fmt.Errorf("create lead: contact name is required")
	}
	return c.store.CreateLead(ctx, store.Lead{
		Contact: contact,
		Source:  source,
		Meta:    meta,
	})
}
