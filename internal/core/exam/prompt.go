// Package exam turns extracted study material into exam papers: it builds the
// model prompts and parses the model's reply into a domain.ExamPaper.
package exam

import (
	"fmt"
	"strings"
)

// TotalMarks is the mark total the paper is requested for.
const TotalMarks = 50

// SystemPrompt sets the examiner persona and the exact JSON layout the model
// must reply with.
const SystemPrompt = "You are an industry and academic specialist lecturer with 20 years of experience in teaching students aged 8 to 30.\n" +
	"\n" +
	"When generating an exam paper, structure your response exactly in this JSON format:\n" +
	"\n" +
	"```json\n" +
	`{
  "infront_page": {
    "title": "University of Alathur",
    "subject": "Subject Name",
    "total_marks": 50,
    "exam_time": "02:00",
    "description": "Please answer ALL THREE Questions.",
    "secondary_description": "Use a SEPARATE answerbook for each SECTION."
  },
  "questions_data": {
    "num_of_section": 2,
    "section_a": {
      "title": "Section A",
      "child": 3,
      "questions": {
        "1": "Define AI and explain its importance.",
        "2": "What are the types of machine learning?",
        "3": "List any two applications of AI."
      }
    },
    "section_b": {
      "title": "Section B",
      "child": 2,
      "questions": {
        "1": "Explain supervised vs unsupervised learning with examples.",
        "2": "Design a flowchart for a recommendation system."
      }
    }
  }
}` + "\n```\n" +
	"Return only valid JSON, enclosed in triple backticks with ```json."

const userPromptTemplate = `Create a university/school-like exam/test question paper for %d marks using the provided information to help me master these topics:

---
Provided Information:
%s
---

Please structure the paper clearly with different question types (e.g., multiple choice, short answer, essay).
Include a clear marking scheme.`

// UserPrompt embeds the extracted text in the paper request.
func UserPrompt(extractedText string) string {
	return fmt.Sprintf(userPromptTemplate, TotalMarks, strings.TrimSpace(extractedText))
}
