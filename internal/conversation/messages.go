package conversation

import "fmt"

type messageKey int

const (
	msgError messageKey = iota
	msgGenerationFailed
	msgSaveFailed
	msgReaskApproval
	msgCancelled
	msgSuccess
)

// messages are the fixed replies used when the model is unavailable or
// its reply cannot be trusted. Every entry suggests a next step.
var messages = map[string]map[messageKey]string{
	"en": {
		msgError:            "Sorry, something went wrong while working on your automation. Please try rephrasing your request, or try again in a moment.",
		msgGenerationFailed: "I couldn't turn that into a valid automation. Try describing a simpler one, for example a single trigger and a single action.",
		msgSaveFailed:       "The automation was built but could not be saved to Home Assistant. Please check that Home Assistant is reachable and try again.",
		msgReaskApproval:    "I didn't catch whether you want to go ahead. Reply yes to create the automation, no to cancel, or tell me what to change.",
		msgCancelled:        "Okay, I cancelled that automation. Tell me whenever you want to create a new one.",
		msgSuccess:          "Done! The automation %q was created and is now active.",
	},
	"he": {
		msgError:            "מצטער, משהו השתבש בזמן העבודה על האוטומציה. נסה לנסח את הבקשה מחדש או לנסות שוב בעוד רגע.",
		msgGenerationFailed: "לא הצלחתי להפוך את זה לאוטומציה תקינה. נסה לתאר אוטומציה פשוטה יותר, למשל טריגר אחד ופעולה אחת.",
		msgSaveFailed:       "האוטומציה נבנתה אבל לא נשמרה ב-Home Assistant. בדוק ש-Home Assistant זמין ונסה שוב.",
		msgReaskApproval:    "לא הבנתי אם להמשיך. ענה כן כדי ליצור את האוטומציה, לא כדי לבטל, או כתוב מה לשנות.",
		msgCancelled:        "בסדר, ביטלתי את האוטומציה. אפשר ליצור חדשה בכל זמן.",
		msgSuccess:          "בוצע! האוטומציה %q נוצרה ופעילה.",
	},
}

// message returns the fixed text for key in language, falling back to
// English.
func message(language string, key messageKey, args ...any) string {
	set, ok := messages[language]
	if !ok {
		set = messages["en"]
	}
	if len(args) == 0 {
		return set[key]
	}
	return fmt.Sprintf(set[key], args...)
}
