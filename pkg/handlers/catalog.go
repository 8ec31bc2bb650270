package handlers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog holds the per-locale reply texts. Built-in defaults cover es and
// en; a YAML file can override or add entries per deployment.
//
// Lookup order: exact locale, base language (es-AR falls back to es), then
// es as the catalog default.
type Catalog struct {
	messages map[string]map[string]string // key -> locale -> text
}

// catalogFile mirrors the YAML override layout:
//
//	messages:
//	  greeting:
//	    es: "..."
//	    en: "..."
type catalogFile struct {
	Messages map[string]map[string]string `yaml:"messages"`
}

// NewCatalog returns a catalog with the built-in defaults.
func NewCatalog() *Catalog {
	c := &Catalog{messages: make(map[string]map[string]string)}
	for key, locales := range defaultMessages {
		m := make(map[string]string, len(locales))
		for loc, text := range locales {
			m[loc] = text
		}
		c.messages[key] = m
	}
	return c
}

// LoadCatalog reads a YAML override file on top of the defaults. A missing
// file is not an error; the defaults stand.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for key, locales := range file.Messages {
		if c.messages[key] == nil {
			c.messages[key] = make(map[string]string, len(locales))
		}
		for loc, text := range locales {
			c.messages[key][loc] = text
		}
	}
	return c, nil
}

// Msg returns the text for key in the given locale, applying the fallback
// chain. Unknown keys return the key itself so a wiring mistake is visible
// in the transcript instead of silently dropped.
func (c *Catalog) Msg(locale, key string) string {
	locales, ok := c.messages[key]
	if !ok {
		return key
	}
	if text, ok := locales[locale]; ok {
		return text
	}
	if base, _, found := strings.Cut(locale, "-"); found {
		if text, ok := locales[base]; ok {
			return text
		}
	}
	return locales["es"]
}

// Msgf is Msg with fmt verbs applied.
func (c *Catalog) Msgf(locale, key string, args ...any) string {
	return fmt.Sprintf(c.Msg(locale, key), args...)
}

var defaultMessages = map[string]map[string]string{
	"greeting": {
		"es": "¡Hola! Soy el asistente de soporte técnico. ¿En qué idioma preferís hablar?",
		"en": "Hi! I'm the technical support assistant. Which language do you prefer?",
	},
	"ask_name": {
		"es": "¡Perfecto! ¿Cómo te llamás?",
		"en": "Great! What's your name?",
	},
	"ask_name_retry": {
		"es": "No entendí tu nombre. ¿Me lo repetís? También podés continuar sin darlo.",
		"en": "I didn't catch your name. Could you repeat it? You can also continue without one.",
	},
	"ask_language": {
		"es": "Hola%s. ¿En qué idioma querés continuar?",
		"en": "Hello%s. Which language would you like to continue in?",
	},
	"ask_need": {
		"es": "¿Qué necesitás hoy? ¿Ayuda con un problema o hacer una gestión?",
		"en": "What do you need today? Help with a problem, or a service request?",
	},
	"ask_problem": {
		"es": "Contame qué problema estás teniendo, con el mayor detalle posible.",
		"en": "Tell me what problem you're having, in as much detail as you can.",
	},
	"ask_problem_retry": {
		"es": "No logré entender el problema. ¿Podés describirlo de otra forma?",
		"en": "I couldn't understand the problem. Could you describe it differently?",
	},
	"ask_device": {
		"es": "Entendido. ¿Con qué equipo está pasando? (router, notebook, teléfono...)",
		"en": "Got it. Which device is this happening on? (router, laptop, phone...)",
	},
	"ask_device_retry": {
		"es": "No identifiqué el equipo. ¿Me decís qué dispositivo es?",
		"en": "I couldn't identify the device. Which device is it?",
	},
	"basic_tests": {
		"es": "Probemos algo básico: reiniciá el equipo y verificá los cables. Avisame cómo te fue.",
		"en": "Let's try the basics: restart the device and check the cables. Let me know how it went.",
	},
	"diagnosis": {
		"es": "Según lo que me contás, parece un problema de %s. ¿Querés que genere un ticket para que lo revise un técnico?",
		"en": "From what you've told me, this looks like a %s issue. Want me to open a ticket so a technician can look into it?",
	},
	"diagnosis_retry": {
		"es": "¿Querés que genere un ticket? Respondé sí o no.",
		"en": "Should I open a ticket? Please answer yes or no.",
	},
	"escalation": {
		"es": "Te derivo con un agente humano que va a continuar desde acá. ¡Gracias por tu paciencia!",
		"en": "I'm handing you over to a human agent who will take it from here. Thanks for your patience!",
	},
	"ticket_email": {
		"es": "Para crear el ticket necesito un mail de contacto. ¿Cuál es tu correo?",
		"en": "To create the ticket I need a contact email. What's your address?",
	},
	"ticket_email_retry": {
		"es": "Ese correo no parece válido. ¿Me lo escribís de nuevo?",
		"en": "That email doesn't look valid. Could you type it again?",
	},
	"ticket_phone": {
		"es": "Gracias. ¿Y un teléfono de contacto?",
		"en": "Thanks. And a contact phone number?",
	},
	"ticket_phone_retry": {
		"es": "Ese teléfono no parece válido. Probá con el formato +54 11 5555-5555.",
		"en": "That phone number doesn't look valid. Try the format +1 555 555 5555.",
	},
	"ticket_done": {
		"es": "¡Listo! Creé el ticket y un técnico se va a contactar con vos. ¡Que tengas buen día!",
		"en": "Done! I created the ticket and a technician will get in touch. Have a great day!",
	},
	"solved": {
		"es": "¡Me alegro de que se haya resuelto! Cualquier cosa, volvé a escribirme.",
		"en": "Glad it's solved! Write back any time.",
	},
	"closed": {
		"es": "Esta conversación finalizó. Escribí \"reiniciar\" para empezar de nuevo.",
		"en": "This conversation has ended. Type \"restart\" to start over.",
	},
	"error": {
		"es": "Algo no salió como esperaba. ¿Querés hablar con un agente humano?",
		"en": "Something didn't go as expected. Would you like to talk to a human agent?",
	},
	"fallback": {
		"es": "Perdón, no entendí eso. ¿Podés decirlo de otra manera?",
		"en": "Sorry, I didn't understand that. Could you put it another way?",
	},
	"reprompt": {
		"es": "No recibí ningún mensaje. ¿Podés escribirlo de nuevo?",
		"en": "I didn't receive a message. Could you type it again?",
	},
	"retry_later": {
		"es": "Tuvimos un inconveniente guardando tu conversación. Intentá de nuevo en unos segundos.",
		"en": "We had trouble saving your conversation. Please try again in a few seconds.",
	},
}
