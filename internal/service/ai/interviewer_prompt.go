package ai

import (
	"strconv"
	"strings"
)

// NoResumeFallback steers the interview when no resume has been uploaded.
const NoResumeFallback = "No resume provided, Start with core Python, data structures, and backend fundamentals."

const interviewerRole = "You are a senior technical interviewer conducting a real-world software engineering interview."

const interviewerObjective = "Evaluate the candidate's technical depth, problem-solving ability, and practical experience."

var interviewerInstructions = []string{
	"Ask questions strictly aligned with the resume skills.",
	"Start with fundamentals, then gradually increase difficulty.",
	"Ask follow-up questions if the candidate gives a shallow or incorrect answer.",
	"Focus on real-world scenarios, trade-offs, and debugging.",
	"Avoid theoretical trivia unless necessary.",
	"Keep each response concise (maximum 2 sentences).",
	"Maintain a professional, encouraging, but rigorous tone.",
	"Do not provide answers unless explicitly asked.",
}

// BuildSystemPrompt assembles the interviewer instruction for the given resume text.
func BuildSystemPrompt(resume string) string {
	resumeContext := resume
	if strings.TrimSpace(resumeContext) == "" {
		resumeContext = NoResumeFallback
	}

	var b strings.Builder
	b.WriteString(interviewerRole)
	b.WriteString("\nRESUME CONTEXT: ")
	b.WriteString(resumeContext)
	b.WriteString("\n\nOBJECTIVE:\n")
	b.WriteString(interviewerObjective)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	for i, line := range interviewerInstructions {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
