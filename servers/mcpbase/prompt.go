package mcpbase

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ravikant1918/mcpbase-server"
)

// CodeReviewPromptName is the name of the code review prompt.
const CodeReviewPromptName = "code_review"

const codeReviewTemplate = `# Code Review Request

## Code to Review ({{title .Language}})
` + "```" + `{{.Language}}
{{.Code}}
` + "```" + `
{{if .Diff}}
## Changes Since Previous Version
` + "```" + `diff
{{.Diff}}` + "```" + `
{{end}}
## Review Focus
**Primary Focus:** {{title .Focus}}

## Code Analysis Checklist

### General Code Quality
- Code clarity and readability
- Proper naming conventions
- Comment quality and documentation
- Code structure and organization

### {{title .Focus}} Focus
{{.FocusChecklist}}

### {{title .Language}}-Specific Considerations
{{.LanguageGuidelines}}

## Detailed Review Guidelines

Please provide a thorough review covering:

1. **Code Quality Assessment**
   - Rate the overall code quality (1-10)
   - Identify any code smells or anti-patterns
   - Suggest improvements for better maintainability

2. **Functionality Review**
   - Verify the code logic is correct
   - Check for potential bugs or edge cases
   - Assess error handling adequacy

3. **Performance Considerations**
   - Identify performance bottlenecks
   - Suggest optimizations if applicable
   - Consider memory usage and efficiency

4. **Security Analysis**
   - Check for security vulnerabilities
   - Assess input validation and sanitization
   - Review authentication and authorization

5. **Best Practices Compliance**
   - Adherence to {{.Language}} coding standards
   - Use of appropriate design patterns
   - Consistency with team conventions

## Additional Context
- **Language:** {{.Language}}
- **Focus Area:** {{.Focus}}
- **Review Generated:** {{.GeneratedAt}}
- **Code Length:** {{.CodeLength}} characters

## Review Output Format
Please structure your review with:
- Executive summary
- Detailed findings with line references
- Prioritized recommendations
- Suggested improvements with code examples
`

var languageGuidelines = map[string]string{
	"python": `- PEP 8 compliance (formatting, naming)
- Proper use of Python idioms and features
- Type hints usage and correctness
- Exception handling best practices
- Use of context managers where appropriate
- List comprehensions vs loops optimization`,
	"javascript": `- ESLint compliance and modern ES6+ usage
- Proper async/await vs Promise usage
- Variable scoping (let/const vs var)
- Function declaration best practices
- Error handling with try/catch
- Memory leak prevention`,
	"typescript": `- Type safety and proper type annotations
- Interface vs type alias usage
- Generic type usage and constraints
- Strict mode compliance
- Proper import/export patterns
- Null safety and optional chaining`,
	"java": `- Java coding conventions compliance
- Proper use of access modifiers
- Exception handling hierarchy
- Resource management (try-with-resources)
- Collection framework usage
- Thread safety considerations`,
	"rust": `- Memory safety without garbage collection
- Ownership and borrowing rules compliance
- Error handling with Result types
- Pattern matching usage
- Lifetime annotations correctness
- Performance and zero-cost abstractions`,
}

const defaultLanguageGuidelines = `- Language-specific best practices
- Standard library usage
- Error handling patterns
- Performance considerations
- Security best practices
- Code maintainability`

var focusChecklists = map[string]string{
	"security": `- Input validation and sanitization
- Authentication and authorization checks
- SQL injection and XSS prevention
- Sensitive data handling
- Cryptographic implementation review
- Access control verification`,
	"performance": `- Algorithm complexity analysis
- Memory usage optimization
- I/O operation efficiency
- Caching strategies implementation
- Database query optimization
- Resource cleanup and management`,
	"readability": `- Clear variable and function naming
- Appropriate code comments
- Logical code organization
- Consistent formatting and style
- Self-documenting code practices
- Complexity reduction opportunities`,
	"best-practices": `- %s idioms and conventions
- Design pattern implementation
- SOLID principles adherence
- DRY (Don't Repeat Yourself) compliance
- Separation of concerns
- Testability and modularity`,
	"maintainability": `- Code modularity and reusability
- Clear separation of concerns
- Documentation completeness
- Test coverage adequacy
- Refactoring opportunities
- Technical debt assessment`,
}

const defaultFocusChecklist = `- General code quality
- Logic correctness
- Error handling
- Documentation quality
- Maintainability aspects
- Performance considerations`

var codeReview = template.Must(template.New(CodeReviewPromptName).
	Funcs(template.FuncMap{"title": title}).
	Parse(codeReviewTemplate))

type codeReviewData struct {
	Code               string
	Language           string
	Focus              string
	FocusChecklist     string
	LanguageGuidelines string
	GeneratedAt        string
	CodeLength         int
	Diff               string
}

func codeReviewPrompt() mcp.PromptDescriptor {
	return mcp.PromptDescriptor{
		Name:        CodeReviewPromptName,
		Description: "Generate a code review prompt template",
		Params: []mcp.Param{
			{
				Name:        "code",
				Type:        mcp.TypeString,
				Description: "The source code to be reviewed",
				Default:     "# Your code here",
			},
			{
				Name:        "language",
				Type:        mcp.TypeString,
				Description: "Programming language of the code",
				Default:     "python",
			},
			{
				Name:        "focus",
				Type:        mcp.TypeString,
				Description: "Focus area: security, performance, readability, best-practices or maintainability",
				Default:     "general",
			},
			{
				Name:        "previous",
				Type:        mcp.TypeString,
				Description: "Earlier version of the code; when given, the review includes the changes",
			},
		},
		Render: renderCodeReview,
	}
}

func renderCodeReview(_ context.Context, args mcp.Arguments) (string, error) {
	code := args.String("code")
	lang := args.String("language")
	focus := args.String("focus")

	data := codeReviewData{
		Code:               code,
		Language:           lang,
		Focus:              focus,
		FocusChecklist:     focusChecklist(focus, lang),
		LanguageGuidelines: guidelines(lang),
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
		CodeLength:         utf8.RuneCountInString(code),
	}
	if previous := args.String("previous"); previous != "" && previous != code {
		data.Diff = lineDiff(previous, code)
	}

	var sb strings.Builder
	if err := codeReview.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", CodeReviewPromptName, err)
	}
	return sb.String(), nil
}

func guidelines(lang string) string {
	if g, ok := languageGuidelines[strings.ToLower(lang)]; ok {
		return g
	}
	return defaultLanguageGuidelines
}

func focusChecklist(focus, lang string) string {
	key := strings.ToLower(focus)
	c, ok := focusChecklists[key]
	if !ok {
		return defaultFocusChecklist
	}
	if key == "best-practices" {
		return fmt.Sprintf(c, lang)
	}
	return c
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}
