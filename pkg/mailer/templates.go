package mailer

import (
	"fmt"
	"html"
	"time"
)

func PasscodeMessage(to, code string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: "Reserva Já: Código de acesso",
		Text:    fmt.Sprintf("Seu código de acesso é: %s\n\nEle expira em %d minutos.", code, minutes),
		HTML: fmt.Sprintf(`
		<h2>Seu código de acesso</h2>
		<p>Use o código abaixo para entrar no Reserva Já:</p>
		<p><strong style="font-size: 24px; letter-spacing: 4px;">%s</strong></p>
		<p>Ele expira em %d minutos. Se você não pediu este código, ignore este e-mail.</p>
	`, code, minutes),
	}
}

func InvitationMessage(to, companyName, link string) Message {
	name := html.EscapeString(companyName)
	return Message{
		To:      to,
		Subject: "Reserva Já: Convite para colaborar",
		Text:    fmt.Sprintf("Você foi convidado para colaborar com %s.\n\nAceite o convite: %s", companyName, link),
		HTML: fmt.Sprintf(`
		<h2>Convite para colaborar</h2>
		<p>Você foi convidado para fazer parte da equipe de <strong>%s</strong>.</p>
		<p><a href="%s">Aceitar convite</a></p>
		<p>O convite expira em 7 dias.</p>
	`, name, html.EscapeString(link)),
	}
}

func SecurityAlertMessage(to, name string, at time.Time) Message {
	when := at.UTC().Format(time.RFC1123)
	return Message{
		To:      to,
		ToName:  name,
		Subject: "Reserva Já: Sessões encerradas por segurança",
		Text: fmt.Sprintf("Detectamos o reuso de um token de sessão em %s. "+
			"Todas as sessões relacionadas foram encerradas. Entre novamente para continuar.", when),
		HTML: fmt.Sprintf(`
		<h2>Sessões encerradas</h2>
		<p>Olá %s,</p>
		<p>Detectamos o reuso de um token de sessão em %s. Por segurança, todas as sessões relacionadas foram encerradas.</p>
		<p>Entre novamente para continuar.</p>
	`, html.EscapeString(name), when),
	}
}
