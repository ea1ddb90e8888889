package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casavox/casavox/pkg/assist"
	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/chat/session"
	"github.com/casavox/casavox/pkg/chat/store"
	"github.com/casavox/casavox/pkg/chat/uispec"
	"github.com/casavox/casavox/pkg/retrieval"
	"github.com/casavox/casavox/pkg/retrieval/vector"
	"github.com/casavox/casavox/pkg/tools"
)

const (
	answerSystem = "You are Casavox, a friendly real-estate assistant. Answer concisely " +
		"and concretely. Use the provided listings when they are relevant; never invent " +
		"listings or prices."
	fallbackReply  = "Sorry, something went wrong."
	maxHistoryTurn = 8

	awaitingViewing = "viewing_details"
	awaitingLead    = "lead_contact"
)

// Engine runs one conversational turn: resolve the session, route the
// intent, execute tools, and decide between a structured UI reply and a
// plain-text answer.
type Engine struct {
	Sessions   *session.Manager
	Provider   assist.Provider
	Search     *tools.PropertySearch
	CRM        *tools.CRM
	Retriever  *retrieval.Retriever
	RetrievalK int
	Logger     *slog.Logger
}

type TurnInput struct {
	UserID           string
	SessionID        string
	Message          string
	Lang             string
	PropertyID       string
	PropertySnapshot map[string]any
	Page             string
}

type TurnResult struct {
	SessionID string
	Reply     content.Content
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Turn never fails the conversation: tool and model errors become the
// generic apology so the widget always has something to render. Storage
// errors do propagate, since without the store there is no conversation.
func (e *Engine) Turn(ctx context.Context, in TurnInput) (TurnResult, error) {
	sess, err := e.resolveSession(ctx, in)
	if err != nil {
		return TurnResult{}, err
	}
	if _, err := e.Sessions.Append(ctx, sess.ID, store.RoleUser, content.Text(in.Message)); err != nil {
		return TurnResult{}, err
	}

	state, err := e.Sessions.DialogState(ctx, sess.ID)
	if err != nil {
		return TurnResult{}, err
	}

	reply, patch, err := e.respond(ctx, state, in)
	if err != nil {
		e.log().Warn("turn failed, sending fallback", "session_id", sess.ID, "error", err)
		reply = content.Text(fallbackReply)
		patch = nil
	}

	if _, err := e.Sessions.Append(ctx, sess.ID, store.RoleAssistant, reply); err != nil {
		return TurnResult{}, err
	}
	if patch != nil {
		if _, err := e.Sessions.PatchDialogState(ctx, sess.ID, patch); err != nil {
			e.log().Warn("dialog state patch failed", "session_id", sess.ID, "error", err)
		}
	}
	return TurnResult{SessionID: sess.ID, Reply: reply}, nil
}

func (e *Engine) resolveSession(ctx context.Context, in TurnInput) (store.Session, error) {
	if in.SessionID != "" {
		sess, err := e.Sessions.SessionByID(ctx, in.SessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Session{}, err
		}
		// Stale client-side session id: fall through to a fresh session.
	}
	return e.Sessions.EnsureSession(ctx, in.UserID)
}

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "hola": {}, "good morning": {},
	"good afternoon": {}, "good evening": {}, "yo": {},
}

func (e *Engine) respond(ctx context.Context, state map[string]any, in TurnInput) (content.Content, map[string]any, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return content.Text("I didn't catch that. What are you looking for?"), nil, nil
	}
	if _, ok := greetings[strings.ToLower(strings.TrimRight(msg, "!. "))]; ok {
		return content.Text("Hi! I can help you find homes, estimate mortgage payments, or book a viewing. What are you looking for?"), nil, nil
	}

	cls, err := e.Provider.Classify(ctx, msg)
	if err != nil {
		return content.Content{}, nil, err
	}

	// A pending question takes priority over fresh intent routing; the
	// user is most likely answering it.
	switch state[session.StateAwaiting] {
	case awaitingViewing:
		return e.continueViewing(ctx, state, cls, in)
	case awaitingLead:
		return e.continueLead(ctx, state, cls)
	}

	switch cls.Intent {
	case assist.IntentSearchProperties:
		return e.searchReply(ctx, cls.Entities)
	case assist.IntentMortgageCalc:
		return e.mortgageReply(cls.Slots)
	case assist.IntentScheduleViewing:
		return e.startViewing(ctx, state, cls, in)
	case assist.IntentLeadCapture:
		return e.startLead(ctx, cls)
	case assist.IntentHandoffAgent:
		return e.handoffReply(), nil, nil
	default:
		reply, err := e.answerReply(ctx, in)
		return reply, nil, err
	}
}

func (e *Engine) searchReply(ctx context.Context, entities tools.Entities) (content.Content, map[string]any, error) {
	results := e.Search.Search(ctx, entities)
	if len(results) == 0 {
		return content.Text("I couldn't find listings matching that. Want to try a different budget or area?"), nil, nil
	}
	cards := make([]uispec.PropertyCard, 0, len(results))
	for _, p := range results {
		cards = append(cards, uispec.PropertyCard{
			ID:             p.ID,
			Title:          p.Title,
			Address:        p.Address,
			City:           p.City,
			State:          p.State,
			Price:          p.Price,
			Beds:           p.Beds,
			Baths:          p.Baths,
			LivingAreaSqft: p.LivingAreaSqft,
			ImageURL:       p.ImageURL,
			CanonicalURL:   p.URL,
			Score:          p.Score,
		})
	}
	spec := uispec.New(
		uispec.TextBlock(searchSummary(len(cards), entities)),
		uispec.PropertyCardsBlock(cards),
		uispec.ConfirmationBlock(searchSummary(len(cards), entities)),
	)
	return content.UI(spec), nil, nil
}

func searchSummary(n int, e tools.Entities) string {
	where := ""
	if e.City != "" {
		where = " in " + e.City
	}
	if n == 1 {
		return fmt.Sprintf("I found 1 home%s that fits.", where)
	}
	return fmt.Sprintf("I found %d homes%s that fit.", n, where)
}

func (e *Engine) mortgageReply(slots map[string]any) (content.Content, map[string]any, error) {
	price := slotNumber(slots, "price")
	principal := slotNumber(slots, "principal")
	if price == 0 && principal == 0 {
		return content.Text("Sure. What's the home price, and the down payment if any?"), nil, nil
	}
	rate := slotNumber(slots, "rate")
	years := int(slotNumber(slots, "years"))
	if years == 0 {
		years = 30
	}
	params := tools.BreakdownParams{
		Price:               price,
		Rate:                rate,
		Years:               years,
		DownPayment:         slotNumber(slots, "down_payment"),
		PropertyTaxAnnual:   slotNumber(slots, "property_tax_annual"),
		HomeInsuranceAnnual: slotNumber(slots, "home_insurance_annual"),
		HOA:                 slotNumber(slots, "hoa"),
		PMIMonthly:          slotNumber(slots, "pmi_monthly"),
	}
	if params.Price == 0 {
		params.Price = principal
	}
	b := tools.MortgageBreakdown(params)
	line := fmt.Sprintf("Estimated monthly payment: about $%d.", b.Total)
	spec := uispec.New(
		uispec.TextBlock(line),
		uispec.MortgageBlock(uispec.MortgageSummary{
			Principal: b.Principal,
			PI:        b.PI,
			Tax:       b.Tax,
			Insurance: b.Ins,
			HOA:       b.HOA,
			PMI:       b.PMI,
			Total:     b.Total,
		}),
		uispec.ConfirmationBlock(line),
	)
	return content.UI(spec), nil, nil
}

// viewingDraft accumulates booking details across turns in dialog state.
type viewingDraft struct {
	PropertyID string
	When       string
	Name       string
	Phone      string
	Email      string
}

func draftFromState(state map[string]any) viewingDraft {
	d := viewingDraft{}
	raw, ok := state["viewing"].(map[string]any)
	if !ok {
		return d
	}
	d.PropertyID, _ = raw["property_id"].(string)
	d.When, _ = raw["when"].(string)
	d.Name, _ = raw["name"].(string)
	d.Phone, _ = raw["phone"].(string)
	d.Email, _ = raw["email"].(string)
	return d
}

func (d *viewingDraft) merge(slots map[string]any, in TurnInput) {
	if v := slotString(slots, "property_id"); v != "" {
		d.PropertyID = v
	}
	if d.PropertyID == "" && in.PropertyID != "" {
		d.PropertyID = in.PropertyID
	}
	if v := slotString(slots, "when"); v != "" {
		d.When = v
	}
	if v := slotString(slots, "name"); v != "" {
		d.Name = v
	}
	if v := slotString(slots, "phone"); v != "" {
		d.Phone = v
	}
	if v := slotString(slots, "email"); v != "" {
		d.Email = v
	}
}

func (d viewingDraft) missing() []string {
	var out []string
	if d.PropertyID == "" {
		out = append(out, "which property you'd like to see")
	}
	if d.When == "" {
		out = append(out, "a day and time")
	}
	if d.Name == "" {
		out = append(out, "your name")
	}
	if d.Phone == "" {
		out = append(out, "a phone number")
	}
	return out
}

func (d viewingDraft) stateMap() map[string]any {
	return map[string]any{
		"property_id": d.PropertyID,
		"when":        d.When,
		"name":        d.Name,
		"phone":       d.Phone,
		"email":       d.Email,
	}
}

func (e *Engine) startViewing(ctx context.Context, state map[string]any, cls assist.Classification, in TurnInput) (content.Content, map[string]any, error) {
	return e.continueViewing(ctx, state, cls, in)
}

func (e *Engine) continueViewing(ctx context.Context, state map[string]any, cls assist.Classification, in TurnInput) (content.Content, map[string]any, error) {
	draft := draftFromState(state)
	draft.merge(cls.Slots, in)

	if missing := draft.missing(); len(missing) > 0 {
		patch := map[string]any{
			session.StateAwaiting: awaitingViewing,
			"viewing":             draft.stateMap(),
		}
		return content.Text("Happy to set that up. I still need " + joinNatural(missing) + "."), patch, nil
	}

	v, err := e.CRM.ScheduleViewing(ctx, draft.PropertyID, draft.When, store.Contact{
		Name: draft.Name, Phone: draft.Phone, Email: draft.Email,
	})
	if err != nil {
		return content.Content{}, nil, err
	}
	line := fmt.Sprintf("You're booked! Viewing requested for %s. We'll confirm by phone shortly.", v.When)
	spec := uispec.New(
		uispec.ConfirmationBlock(line),
		uispec.ContactCardBlock(uispec.ContactCard{
			Heading: "Viewing request received",
			Phone:   draft.Phone,
			Email:   draft.Email,
			Options: []string{"Reschedule", "Cancel viewing"},
		}),
	)
	patch := map[string]any{
		session.StateAwaiting: session.AwaitingNone,
		"viewing":             nil,
	}
	return content.UI(spec), patch, nil
}

func (e *Engine) startLead(ctx context.Context, cls assist.Classification) (content.Content, map[string]any, error) {
	return e.continueLead(ctx, map[string]any{}, cls)
}

func (e *Engine) continueLead(ctx context.Context, _ map[string]any, cls assist.Classification) (content.Content, map[string]any, error) {
	name := slotString(cls.Slots, "name")
	phone := slotString(cls.Slots, "phone")
	email := slotString(cls.Slots, "email")
	if name == "" || (phone == "" && email == "") {
		patch := map[string]any{session.StateAwaiting: awaitingLead}
		return content.Text("I can have an agent follow up. What's your name, and a phone number or email?"), patch, nil
	}
	if _, err := e.CRM.CreateLead(ctx, store.Contact{Name: name, Phone: phone, Email: email}, "", nil); err != nil {
		return content.Content{}, nil, err
	}
	patch := map[string]any{session.StateAwaiting: session.AwaitingNone}
	return content.Text(fmt.Sprintf("Thanks %s, an agent will reach out soon.", name)), patch, nil
}

func (e *Engine) handoffReply() content.Content {
	return content.UI(uispec.New(
		uispec.ConfirmationBlock("Connecting you with an agent."),
		uispec.ContactCardBlock(uispec.ContactCard{
			Heading: "Talk to an agent",
			Options: []string{"Request a callback", "Continue in chat"},
		}),
	))
}

func (e *Engine) answerReply(ctx context.Context, in TurnInput) (content.Content, error) {
	contextText := e.retrievalContext(ctx, in)
	history, err := e.recentHistory(ctx, in.SessionID)
	if err != nil {
		e.log().Warn("history load for answer failed", "error", err)
	}
	text, err := e.Provider.Answer(ctx, assist.AnswerRequest{
		System:  answerSystem,
		History: history,
		Message: in.Message,
		Context: contextText,
		Lang:    in.Lang,
	})
	if err != nil {
		return content.Content{}, err
	}
	return content.Text(text), nil
}

func (e *Engine) retrievalContext(ctx context.Context, in TurnInput) string {
	var b strings.Builder
	if in.PropertyID != "" {
		fmt.Fprintf(&b, "User is currently viewing property %s.\n", in.PropertyID)
	}
	if in.Page != "" {
		fmt.Fprintf(&b, "User is on page %s.\n", in.Page)
	}
	if len(in.PropertySnapshot) > 0 {
		p := tools.Normalize(vector.Hit{ID: in.PropertyID, Metadata: in.PropertySnapshot})
		fmt.Fprintf(&b, "Current page listing: %s | $%d | %d bd / %d ba\n", p.Title, p.Price, p.Beds, p.Baths)
	}
	if e.Retriever == nil {
		return b.String()
	}
	hits := e.Retriever.Retrieve(ctx, in.Message, nil, e.RetrievalK)
	for _, h := range hits {
		p := tools.Normalize(h)
		fmt.Fprintf(&b, "- %s | $%d | %d bd / %d ba | %s\n", p.Title, p.Price, p.Beds, p.Baths, p.URL)
	}
	return b.String()
}

func (e *Engine) recentHistory(ctx context.Context, sessionID string) ([]assist.Turn, error) {
	if sessionID == "" {
		return nil, nil
	}
	msgs, err := e.Sessions.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var turns []assist.Turn
	for _, m := range msgs {
		text := m.Content.PlainText()
		if text == "" {
			continue
		}
		turns = append(turns, assist.Turn{Role: string(m.Role), Content: text})
	}
	if len(turns) > maxHistoryTurn {
		turns = turns[len(turns)-maxHistoryTurn:]
	}
	return turns, nil
}

func slotString(slots map[string]any, key string) string {
	if s, ok := slots[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func slotNumber(slots map[string]any, key string) float64 {
	switch v := slots[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.ReplaceAll(v, ",", ""), "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
