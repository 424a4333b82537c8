package render_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/render"
)

func TestRender_Substitutes(t *testing.T) {
	out := render.Render("Dear {title} {last_name},", map[string]string{
		"title":     "Dr",
		"last_name": "Lovelace",
	})
	assert.Equal(t, "Dear Dr Lovelace,", out)
}

func TestRender_UnknownPlaceholderPreserved(t *testing.T) {
	out := render.Render("Your fruit: {favourite_fruit}", map[string]string{})
	assert.Equal(t, "Your fruit: {favourite_fruit}", out)
}

func TestRender_ValueNotRescanned(t *testing.T) {
	ctx := map[string]string{"a": "{b}", "b": "boom"}
	assert.Equal(t, "{b}", render.Render("{a}", ctx))
}

func TestRender_IdempotentOverUnknowns(t *testing.T) {
	tpl := "Hi {name}, {unknown} and {also_unknown}."
	ctx := map[string]string{"name": "Ada"}

	once := render.Render(tpl, ctx)
	assert.Equal(t, once, render.Render(once, ctx))
}

func TestRender_EdgeCases(t *testing.T) {
	ctx := map[string]string{"key": "v"}

	assert.Equal(t, "", render.Render("", ctx))
	assert.Equal(t, "{}", render.Render("{}", ctx), "empty token is not a placeholder")
	assert.Equal(t, "{", render.Render("{", ctx))
	assert.Equal(t, "a { b } c", render.Render("a { b } c", ctx), "spaces break the token")
	assert.Equal(t, "{v}", render.Render("{{key}}", ctx), "inner placeholder substitutes, outer braces stay literal")
	assert.Equal(t, "v and {nope}", render.Render("{key} and {nope}", ctx))
}

func TestBody_TwoStages(t *testing.T) {
	hub := &models.Hub{
		Template:       `<p>Hi {name}</p>{message}<p><a href="{unsubscribe_url}">u</a></p>`,
		UnsubscribeURL: "https://mail.example.com/unsubscribe",
	}
	email := &models.Email{Body: "Dear {title}"}
	r := &models.Recipient{ID: 42, Name: "Ada", Fields: map[string]string{"title": "Dr"}}

	out := render.Body(hub, email, r)
	assert.Equal(t, `<p>Hi Ada</p>Dear Dr<p><a href="https://mail.example.com/unsubscribe">u</a></p>`, out)
}

func TestBody_RecipientFieldsCannotReachStageB(t *testing.T) {
	// A recipient field expanding to {unsubscribe_url} must not pick up the
	// hub's URL in stage B.
	hub := &models.Hub{Template: "{message}", UnsubscribeURL: "https://u.example.com"}
	email := &models.Email{Body: "x {inject} y"}
	r := &models.Recipient{Fields: map[string]string{"inject": "{unsubscribe_url}"}}

	assert.Equal(t, "x {unsubscribe_url} y", render.Body(hub, email, r))
}

func TestBody_EmptyOuterTemplate(t *testing.T) {
	hub := &models.Hub{}
	email := &models.Email{Body: "Hello {name}"}
	r := &models.Recipient{Name: "Ada", Fields: map[string]string{}}

	// {name} is not special in stage A; the raw body survives.
	assert.Equal(t, "Hello {name}", render.Body(hub, email, r))
}

func TestBody_OuterWithoutMessageAppendsParagraph(t *testing.T) {
	hub := &models.Hub{Template: "<p>Hello {name}</p>"}
	email := &models.Email{Body: "Body"}
	r := &models.Recipient{Name: "Ada", Fields: map[string]string{}}

	assert.Equal(t, "<p>Hello Ada</p><p>Body</p>", render.Body(hub, email, r))
}
