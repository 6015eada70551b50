package extractor

// systemInstruction describes the only accepted response shape.
const systemInstruction = `Você extrai o conteúdo programático de editais de concursos públicos brasileiros.
Responda somente com um objeto JSON, sem comentários e sem markdown, com esta estrutura exata:
{
  "subjects": [
    {
      "name": "Língua Portuguesa",
      "description": "",
      "topics": [
        {
          "ordinal": 1,
          "title": "Compreensão e interpretação de textos",
          "description": "",
          "subtopics": [
            {
              "name": "Tipologia textual",
              "description": "",
              "subtopics": [ { "name": "Textos narrativos", "description": "" } ]
            }
          ]
        }
      ]
    }
  ],
  "confidence": "low" | "medium" | "high"
}
Regras:
- Use no máximo quatro níveis: disciplina, tópico, subtópico e sub-subtópico.
- "ordinal" é a numeração do tópico no edital, começando em 1.
- Copie os nomes como aparecem no edital, sem inventar conteúdo.
- Se o texto não contiver conteúdo programático, responda {"subjects": [], "confidence": "low"}.`

const userPromptPrefix = "Texto do edital (trecho com o conteúdo programático):\n\n"
