package notify

import "github.com/ovigia/authd"

const verifyText = `Hi {{.Name}},

Confirm your email address for {{.AppName}} by opening the link below:

{{.Link}}
{{if .ExpiresIn}}
The link expires in {{.ExpiresIn}}.{{end}}

If you did not create an account you can ignore this message.`

const verifyHTML = `<p>Hi {{.Name}},</p>
<p>Confirm your email address for {{.AppName}} by opening the link below:</p>
<p><a href="{{.Link}}">Verify my email</a></p>
{{if .ExpiresIn}}<p>The link expires in {{.ExpiresIn}}.</p>{{end}}
<p>If you did not create an account you can ignore this message.</p>`

const resetText = `Hi {{.Name}},

Someone asked to reset the password of your {{.AppName}} account. Open the link below to choose a new one:

{{.Link}}
{{if .ExpiresIn}}
The link expires in {{.ExpiresIn}} and works once.{{end}}

If it was not you, no action is needed and your password stays the same.`

const resetHTML = `<p>Hi {{.Name}},</p>
<p>Someone asked to reset the password of your {{.AppName}} account. Open the link below to choose a new one:</p>
<p><a href="{{.Link}}">Reset my password</a></p>
{{if .ExpiresIn}}<p>The link expires in {{.ExpiresIn}} and works once.</p>{{end}}
<p>If it was not you, no action is needed and your password stays the same.</p>`

// DefaultTemplates returns the built in messages for each token purpose
func DefaultTemplates() map[auth.TokenPurpose]Template {
	return map[auth.TokenPurpose]Template{
		auth.PurposeEmailVerify: {
			Subject: "Verify your {{.AppName}} email address",
			Text:    verifyText,
			HTML:    verifyHTML,
		},
		auth.PurposePasswordReset: {
			Subject: "Reset your {{.AppName}} password",
			Text:    resetText,
			HTML:    resetHTML,
		},
	}
}
