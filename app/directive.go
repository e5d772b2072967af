package app

import "github.com/shopspring/decimal"

// DirectiveKind is the response type understood by the aggregator
type DirectiveKind string

const (
	KindPrompt    DirectiveKind = "response"
	KindAddToCart DirectiveKind = "AddToCart"
	KindRelease   DirectiveKind = "release"
)

// Data types and field types of the aggregator's input widget
const (
	DataTypeInput   = "input"
	DataTypeDisplay = "display"

	FieldTypeText   = "text"
	FieldTypeNumber = "number"
	FieldTypePhone  = "phone"
)

// ItemName is the only thing this service sells
const ItemName = "WASSCE Checker"

// Directive is what the state machine tells the aggregator to do next
type Directive struct {
	Kind      DirectiveKind
	Label     string
	Message   string
	DataType  string
	FieldType string
	Item      *Item // AddToCart only
}

// Item is the checkout line handed to the gateway
type Item struct {
	Name  string
	Qty   int
	Price decimal.Decimal // major currency units
}

// Terminal reports whether the conversation ends with this directive
func (d *Directive) Terminal() bool {
	return d.Kind != KindPrompt
}

func prompt(label, message, fieldType string) *Directive {
	return &Directive{
		Kind:      KindPrompt,
		Label:     label,
		Message:   message,
		DataType:  DataTypeInput,
		FieldType: fieldType,
	}
}

func release(label, message string) *Directive {
	return &Directive{
		Kind:      KindRelease,
		Label:     label,
		Message:   message,
		DataType:  DataTypeDisplay,
		FieldType: FieldTypeText,
	}
}

func addToCart(qty int, price decimal.Decimal) *Directive {
	return &Directive{
		Kind:      KindAddToCart,
		Label:     "Proceed to payment",
		Message:   "The request has been submitted. Please wait for a payment prompt soon",
		DataType:  DataTypeDisplay,
		FieldType: FieldTypeText,
		Item: &Item{
			Name:  ItemName,
			Qty:   qty,
			Price: price,
		},
	}
}

// Prompts and releases
var (
	mainMenuPrompt = func() *Directive {
		return prompt("Main Menu", "Welcome to Jel Services\n1. Buy WASSCE Results Checker\n2. Retrieve Voucher", FieldTypeText)
	}
	quantityPrompt = func() *Directive {
		return prompt("Quantity", "Enter number of checkers you want to buy (eg. 1)", FieldTypeNumber)
	}
	invalidQuantityPrompt = func() *Directive {
		return prompt("Quantity", "Invalid quantity. Enter a number (e.g., 1)", FieldTypeNumber)
	}
	namePrompt = func() *Directive {
		return prompt("Name", "Enter your full name", FieldTypeText)
	}
	phonePrompt = func() *Directive {
		return prompt("Phone", "Enter your phone number", FieldTypePhone)
	}
	recoveryNamePrompt = func() *Directive {
		return prompt("Voucher Name", "Enter your full name", FieldTypeText)
	}
	recoveryPhonePrompt = func() *Directive {
		return prompt("Voucher Phone", "Enter your phone number", FieldTypePhone)
	}

	exitRelease = func() *Directive {
		return release("Exit", "Thanks for using Jel Services.")
	}
	cancelRelease = func() *Directive {
		return release("Cancelled", "Transaction cancelled.")
	}
	timeoutRelease = func() *Directive {
		return release("Timeout", "Session timed out.")
	}
	errorRelease = func() *Directive {
		return release("Error", "An error occurred.")
	}
	matchedRelease = func() *Directive {
		return release("Voucher Request Received",
			"We found a matching payment record.\nAdmin has been notified via the admin panel and will send your voucher shortly.")
	}
	noRecordRelease = func() *Directive {
		return release("No Record Found",
			"No payment record found for the details provided.\nIf you believe you paid, please contact admin.")
	}
)

// ErrorDirective is the generic terminal reply used when an event cannot be handled
func ErrorDirective() *Directive {
	return errorRelease()
}
